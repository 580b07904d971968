package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/policy"
	"github.com/noah-isme/academix-api/internal/repository"
	"github.com/noah-isme/academix-api/pkg/database"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
	"github.com/noah-isme/academix-api/pkg/storage"
)

type lessonRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Lesson, error)
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, lesson *models.Lesson) error
	Update(ctx context.Context, lesson *models.Lesson) error
	SetVideo(ctx context.Context, id string, key, url *string) error
	DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error)
	CountByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type lessonProgressStore interface {
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Exists(ctx context.Context, studentID, courseID string) (bool, error)
	AddCompletedLessonTx(ctx context.Context, tx *sqlx.Tx, enrollmentID, lessonID string, completedAt time.Time) error
	CountCompletedTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string) (int, error)
	UpdateProgressTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string, progress float64) error
	RecomputeCourseProgressTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error)
}

// CreateLessonRequest is the payload for creating a lesson.
type CreateLessonRequest struct {
	CourseID string `json:"course" validate:"required"`
	Title    string `json:"title" validate:"required,max=200"`
	Content  string `json:"content" validate:"required"`
	Duration int    `json:"duration" validate:"required,min=1"`
}

// UpdateLessonRequest is a partial lesson update. The course cannot change.
type UpdateLessonRequest struct {
	Title    *string `json:"title" validate:"omitempty,min=1,max=200"`
	Content  *string `json:"content" validate:"omitempty,min=1"`
	Duration *int    `json:"duration" validate:"omitempty,min=1"`
}

// VideoUpload is an incoming lesson video.
type VideoUpload struct {
	Body        io.Reader
	Size        int64
	ContentType string
}

// VideoConfig bounds uploads and playback links.
type VideoConfig struct {
	MaxBytes     int64
	AllowedMIMEs []string
	URLTTL       time.Duration
}

// LessonService manages lessons, their videos and completion progress.
type LessonService struct {
	repo        lessonRepository
	courses     courseReader
	enrollments lessonProgressStore
	tx          database.Transactor
	store       storage.ObjectStore
	cache       *CacheService
	video       VideoConfig
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewLessonService constructs a LessonService.
func NewLessonService(repo lessonRepository, courses courseReader, enrollments lessonProgressStore, tx database.Transactor, store storage.ObjectStore, cache *CacheService, video VideoConfig, validate *validator.Validate, logger *zap.Logger) *LessonService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if video.URLTTL <= 0 {
		video.URLTTL = time.Hour
	}
	if len(video.AllowedMIMEs) == 0 {
		video.AllowedMIMEs = []string{"video/mp4", "video/webm", "video/quicktime"}
	}
	return &LessonService{
		repo:        repo,
		courses:     courses,
		enrollments: enrollments,
		tx:          tx,
		store:       store,
		cache:       cache,
		video:       video,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ListByCourse returns the lessons of a course in creation order.
func (s *LessonService) ListByCourse(ctx context.Context, courseID string) ([]models.LessonView, error) {
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, err
	}
	lessons, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}
	views := make([]models.LessonView, 0, len(lessons))
	for _, l := range lessons {
		views = append(views, models.NewLessonView(l))
	}
	return views, nil
}

// Get returns a single lesson.
func (s *LessonService) Get(ctx context.Context, id string) (*models.LessonView, error) {
	lesson, err := s.loadLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.NewLessonView(*lesson)
	return &view, nil
}

// Create adds a lesson and recomputes progress of every enrollment of the course.
func (s *LessonService) Create(ctx context.Context, actor *policy.Actor, req CreateLessonRequest) (*models.LessonView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionCreate, policy.Resource{Kind: policy.KindLesson, Course: course}); err != nil {
		return nil, err
	}

	lesson := &models.Lesson{
		ID:       uuid.NewString(),
		CourseID: course.ID,
		Title:    strings.TrimSpace(req.Title),
		Content:  req.Content,
		Duration: req.Duration,
	}
	var recomputed int64
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.CreateTx(ctx, tx, lesson); err != nil {
			return err
		}
		recomputed, err = s.enrollments.RecomputeCourseProgressTx(ctx, tx, course.ID)
		return err
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson")
	}

	s.cache.InvalidateCourses(ctx)
	s.logger.Debug("lesson created", zap.String("lesson_id", lesson.ID), zap.Int64("enrollments_recomputed", recomputed))
	view := models.NewLessonView(*lesson)
	return &view, nil
}

// Update edits lesson fields.
func (s *LessonService) Update(ctx context.Context, actor *policy.Actor, id string, req UpdateLessonRequest) (*models.LessonView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	lesson, _, err := s.authorizeLesson(ctx, actor, id, policy.ActionUpdate)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		lesson.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		lesson.Content = *req.Content
	}
	if req.Duration != nil {
		lesson.Duration = *req.Duration
	}
	if err := s.repo.Update(ctx, lesson); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson")
	}

	s.cache.InvalidateCourses(ctx)
	view := models.NewLessonView(*lesson)
	return &view, nil
}

// Delete removes a lesson, recomputes course progress and then deletes the
// lesson video.
func (s *LessonService) Delete(ctx context.Context, actor *policy.Actor, id string) error {
	lesson, _, err := s.authorizeLesson(ctx, actor, id, policy.ActionDelete)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		deleted, err := s.repo.DeleteTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return sql.ErrNoRows
		}
		_, err = s.enrollments.RecomputeCourseProgressTx(ctx, tx, lesson.CourseID)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lesson")
	}

	if lesson.HasVideo() {
		s.deleteObject(ctx, *lesson.VideoKey)
	}
	s.cache.InvalidateCourses(ctx)
	return nil
}

// UploadVideo stores a lesson video and replaces any previous one.
func (s *LessonService) UploadVideo(ctx context.Context, actor *policy.Actor, id string, upload VideoUpload) (*models.LessonView, error) {
	if s.store == nil {
		return nil, appErrors.Clone(appErrors.ErrUpstream, "video storage is not configured")
	}
	lesson, _, err := s.authorizeLesson(ctx, actor, id, policy.ActionUploadVideo)
	if err != nil {
		return nil, err
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(upload.ContentType, ";")[0]))
	if !s.allowedMIME(contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported video type %q", contentType))
	}
	if upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "video file is empty")
	}
	if s.video.MaxBytes > 0 && upload.Size > s.video.MaxBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("video exceeds the %d byte limit", s.video.MaxBytes))
	}

	key := storage.VideoKey(lesson.ID, contentType)
	url, err := s.store.Put(ctx, key, upload.Body, upload.Size, contentType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to store video")
	}

	if err := s.repo.SetVideo(ctx, lesson.ID, &key, &url); err != nil {
		s.deleteObject(ctx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record video")
	}

	if lesson.HasVideo() && *lesson.VideoKey != key {
		s.deleteObject(ctx, *lesson.VideoKey)
	}
	lesson.VideoKey = &key
	lesson.VideoURL = &url
	view := models.NewLessonView(*lesson)
	return &view, nil
}

// DeleteVideo detaches and removes the lesson video.
func (s *LessonService) DeleteVideo(ctx context.Context, actor *policy.Actor, id string) error {
	lesson, _, err := s.authorizeLesson(ctx, actor, id, policy.ActionDeleteVideo)
	if err != nil {
		return err
	}
	if !lesson.HasVideo() {
		return appErrors.Clone(appErrors.ErrNotFound, "lesson has no video")
	}
	if err := s.repo.SetVideo(ctx, lesson.ID, nil, nil); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to detach video")
	}
	s.deleteObject(ctx, *lesson.VideoKey)
	return nil
}

// VideoLink returns a time-limited playback URL for staff and enrolled students.
func (s *LessonService) VideoLink(ctx context.Context, actor *policy.Actor, id string) (*models.VideoLink, error) {
	if s.store == nil {
		return nil, appErrors.Clone(appErrors.ErrUpstream, "video storage is not configured")
	}
	lesson, err := s.loadLesson(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, lesson.CourseID)
	if err != nil {
		return nil, err
	}

	res := policy.Resource{Kind: policy.KindLesson, Course: course}
	if actor != nil && actor.Role == models.RoleStudent {
		enrolled, err := s.enrollments.Exists(ctx, actor.ID, course.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		res.Enrolled = enrolled
	}
	if err := policy.Authorize(actor, policy.ActionViewVideo, res); err != nil {
		return nil, err
	}
	if !lesson.HasVideo() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson has no video")
	}

	url, expiresAt, err := s.store.SignedURL(ctx, *lesson.VideoKey, s.video.URLTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to sign video url")
	}
	return &models.VideoLink{URL: url, ExpiresAt: expiresAt}, nil
}

// Complete marks a lesson as completed for the enrolled student and
// recomputes the enrollment progress in the same transaction.
func (s *LessonService) Complete(ctx context.Context, actor *policy.Actor, lessonID string) (*models.Enrollment, error) {
	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	enrollment, err := s.enrollments.FindByStudentAndCourse(ctx, actor.ID, lesson.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "you are not enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := policy.Authorize(actor, policy.ActionComplete, policy.Resource{Kind: policy.KindLesson, OwnerID: enrollment.StudentID, Enrolled: true}); err != nil {
		return nil, err
	}
	for _, cl := range enrollment.CompletedLessons {
		if cl.LessonID == lessonID {
			return nil, appErrors.Clone(appErrors.ErrConflict, "lesson already completed")
		}
	}

	completedAt := s.now()
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.enrollments.AddCompletedLessonTx(ctx, tx, enrollment.ID, lessonID, completedAt); err != nil {
			return err
		}
		completed, err := s.enrollments.CountCompletedTx(ctx, tx, enrollment.ID)
		if err != nil {
			return err
		}
		total, err := s.repo.CountByCourseTx(ctx, tx, lesson.CourseID)
		if err != nil {
			return err
		}
		enrollment.Progress = enrollmentProgress(completed, total)
		return s.enrollments.UpdateProgressTx(ctx, tx, enrollment.ID, enrollment.Progress)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "lesson already completed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete lesson")
	}

	enrollment.CompletedLessons = append(enrollment.CompletedLessons, models.CompletedLesson{
		EnrollmentID: enrollment.ID,
		LessonID:     lessonID,
		CompletedAt:  completedAt,
	})
	enrollment.UpdatedAt = completedAt
	return enrollment, nil
}

func (s *LessonService) authorizeLesson(ctx context.Context, actor *policy.Actor, id string, action policy.Action) (*models.Lesson, *models.Course, error) {
	lesson, err := s.loadLesson(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	course, err := s.loadCourse(ctx, lesson.CourseID)
	if err != nil {
		return nil, nil, err
	}
	if err := policy.Authorize(actor, action, policy.Resource{Kind: policy.KindLesson, Course: course}); err != nil {
		return nil, nil, err
	}
	return lesson, course, nil
}

func (s *LessonService) loadLesson(ctx context.Context, id string) (*models.Lesson, error) {
	lesson, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

func (s *LessonService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *LessonService) allowedMIME(contentType string) bool {
	for _, allowed := range s.video.AllowedMIMEs {
		if strings.EqualFold(strings.TrimSpace(allowed), contentType) {
			return true
		}
	}
	return false
}

func (s *LessonService) deleteObject(ctx context.Context, key string) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Warn("failed to delete lesson video", zap.String("key", key), zap.Error(err))
	}
}
