package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/policy"
	"github.com/noah-isme/academix-api/pkg/database"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
	"github.com/noah-isme/academix-api/pkg/storage"
)

const (
	defaultCourseLimit = 10
	maxCourseLimit     = 100
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, course *models.Course) error
	UpdateTx(ctx context.Context, tx *sqlx.Tx, course *models.Course) error
	ReplaceInstructorsTx(ctx context.Context, tx *sqlx.Tx, courseID string, instructors []models.CourseInstructor) error
	DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error)
}

type instructorDirectory interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type courseEnrollmentRemover interface {
	DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error)
}

type courseReviewRemover interface {
	DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error)
}

type courseLessonRemover interface {
	VideoKeysByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) ([]string, error)
	DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error)
}

// CourseCascade groups the stores emptied when a course is removed.
type CourseCascade struct {
	Enrollments courseEnrollmentRemover
	Reviews     courseReviewRemover
	Lessons     courseLessonRemover
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Title         string   `json:"title" validate:"required,min=5,max=100"`
	Description   string   `json:"description" validate:"required,min=20"`
	Category      string   `json:"category" validate:"required,max=100"`
	PriceCents    int64    `json:"price_cents" validate:"gte=0"`
	InstructorIDs []string `json:"instructors" validate:"omitempty,dive,required"`
}

// UpdateCourseRequest is a partial course update.
type UpdateCourseRequest struct {
	Title         *string   `json:"title" validate:"omitempty,min=5,max=100"`
	Description   *string   `json:"description" validate:"omitempty,min=20"`
	Category      *string   `json:"category" validate:"omitempty,max=100"`
	PriceCents    *int64    `json:"price_cents" validate:"omitempty,gte=0"`
	InstructorIDs *[]string `json:"instructors" validate:"omitempty,dive,required"`
}

type coursePage struct {
	Courses []models.Course `json:"courses"`
	Total   int             `json:"total"`
}

// CourseService manages the catalog.
type CourseService struct {
	repo      courseRepository
	users     instructorDirectory
	cascade   CourseCascade
	tx        database.Transactor
	store     storage.ObjectStore
	cache     *CacheService
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// CourseServiceDeps bundles the collaborators of CourseService.
type CourseServiceDeps struct {
	Users   instructorDirectory
	Cascade CourseCascade
	Tx      database.Transactor
	Store   storage.ObjectStore
	Cache   *CacheService
	Audit   auditRecorder
	Metrics *MetricsService
}

// NewCourseService constructs a CourseService.
func NewCourseService(repo courseRepository, deps CourseServiceDeps, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{
		repo:      repo,
		users:     deps.Users,
		cascade:   deps.Cascade,
		tx:        deps.Tx,
		store:     deps.Store,
		cache:     deps.Cache,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		validator: validate,
		logger:    logger,
	}
}

// List returns a catalog page, served from cache when enabled. The bool
// reports a cache hit.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, bool, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultCourseLimit
	}
	if filter.Limit > maxCourseLimit {
		filter.Limit = maxCourseLimit
	}
	filter.Category = strings.TrimSpace(filter.Category)

	key := courseListCacheKey(filter)
	var cached coursePage
	if s.cache.Get(ctx, key, &cached) {
		return cached.Courses, &models.Pagination{Page: filter.Page, PageSize: filter.Limit, TotalCount: cached.Total}, true, nil
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if courses == nil {
		courses = []models.Course{}
	}
	s.cache.Set(ctx, key, coursePage{Courses: courses, Total: total}, 0)

	return courses, &models.Pagination{Page: filter.Page, PageSize: filter.Limit, TotalCount: total}, false, nil
}

// Get returns one course with instructors and lesson summaries.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	var cached models.Course
	if s.cache.Get(ctx, courseDetailCacheKey(id), &cached) {
		return &cached, nil
	}
	course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, courseDetailCacheKey(id), course, 0)
	return course, nil
}

// Create adds a course owned by the actor.
func (s *CourseService) Create(ctx context.Context, actor *policy.Actor, req CreateCourseRequest, meta models.RequestMeta) (*models.Course, error) {
	if err := policy.Authorize(actor, policy.ActionCreate, policy.Resource{Kind: policy.KindCourse}); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	ids := req.InstructorIDs
	if len(ids) == 0 && actor.Role == models.RoleInstructor {
		ids = []string{actor.ID}
	}
	instructors, err := s.resolveInstructors(ctx, ids)
	if err != nil {
		return nil, err
	}

	creator := actor.ID
	course := &models.Course{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
		PriceCents:  req.PriceCents,
		CreatedBy:   &creator,
		Instructors: instructors,
		Lessons:     []models.LessonSummary{},
	}

	if err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		return s.repo.CreateTx(ctx, tx, course)
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.cache.InvalidateCourses(ctx)
	payload, _ := json.Marshal(map[string]interface{}{"title": course.Title, "instructors": course.InstructorIDs()})
	s.recordAudit(ctx, actor.ID, models.AuditActionCourseCreate, course.ID, nil, payload, meta)
	return course, nil
}

// Update applies a partial update when the actor may manage the course.
func (s *CourseService) Update(ctx context.Context, actor *policy.Actor, id string, req UpdateCourseRequest, meta models.RequestMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionUpdate, policy.Resource{Kind: policy.KindCourse, Course: course}); err != nil {
		return nil, err
	}

	if req.Title != nil {
		course.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		course.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		course.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		course.PriceCents = *req.PriceCents
	}
	var instructors []models.CourseInstructor
	if req.InstructorIDs != nil {
		instructors, err = s.resolveInstructors(ctx, *req.InstructorIDs)
		if err != nil {
			return nil, err
		}
	}

	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.UpdateTx(ctx, tx, course); err != nil {
			return err
		}
		if req.InstructorIDs != nil {
			return s.repo.ReplaceInstructorsTx(ctx, tx, course.ID, instructors)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no course found with that ID")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	if req.InstructorIDs != nil {
		course.Instructors = instructors
	}

	s.cache.InvalidateCourses(ctx)
	payload, _ := json.Marshal(req)
	s.recordAudit(ctx, actor.ID, models.AuditActionCourseUpdate, course.ID, nil, payload, meta)
	return course, nil
}

// Delete removes the course with its enrollments, reviews and lessons in one
// transaction, then deletes lesson videos best-effort.
func (s *CourseService) Delete(ctx context.Context, actor *policy.Actor, id string, meta models.RequestMeta) error {
	course, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, policy.ActionDelete, policy.Resource{Kind: policy.KindCourse, Course: course}); err != nil {
		return err
	}

	var (
		videoKeys                     []string
		enrollments, reviews, lessons int64
	)
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if videoKeys, err = s.cascade.Lessons.VideoKeysByCourseTx(ctx, tx, id); err != nil {
			return err
		}
		if enrollments, err = s.cascade.Enrollments.DeleteByCourseTx(ctx, tx, id); err != nil {
			return err
		}
		if reviews, err = s.cascade.Reviews.DeleteByCourseTx(ctx, tx, id); err != nil {
			return err
		}
		if lessons, err = s.cascade.Lessons.DeleteByCourseTx(ctx, tx, id); err != nil {
			return err
		}
		deleted, err := s.repo.DeleteTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no course found with that ID")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}

	s.deleteObjects(ctx, videoKeys)
	s.cache.InvalidateCourses(ctx)
	s.metrics.RecordCascade("course", "enrollments", enrollments)
	s.metrics.RecordCascade("course", "reviews", reviews)
	s.metrics.RecordCascade("course", "lessons", lessons)

	payload, _ := json.Marshal(map[string]interface{}{
		"title":       course.Title,
		"enrollments": enrollments,
		"reviews":     reviews,
		"lessons":     lessons,
	})
	s.recordAudit(ctx, actor.ID, models.AuditActionCourseDelete, id, payload, nil, meta)
	s.logger.Info("course deleted",
		zap.String("course_id", id),
		zap.Int64("enrollments", enrollments),
		zap.Int64("reviews", reviews),
		zap.Int64("lessons", lessons),
	)
	return nil
}

func (s *CourseService) load(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no course found with that ID")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// resolveInstructors loads and denormalises instructor references. Every id
// must belong to an instructor or an administrator.
func (s *CourseService) resolveInstructors(ctx context.Context, ids []string) ([]models.CourseInstructor, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return []models.CourseInstructor{}, nil
	}

	users, err := s.users.FindByIDs(ctx, unique)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructors")
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]models.CourseInstructor, 0, len(unique))
	for _, id := range unique {
		u, ok := byID[id]
		if !ok || (u.Role != models.RoleInstructor && u.Role != models.RoleAdmin) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("user %s is not an instructor", id))
		}
		out = append(out, models.CourseInstructor{UserID: u.ID, Name: u.Name, Email: u.Email})
	}
	return out, nil
}

func (s *CourseService) deleteObjects(ctx context.Context, keys []string) {
	if s.store == nil {
		return
	}
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Warn("failed to delete lesson video", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *CourseService) recordAudit(ctx context.Context, actorID, action, courseID string, oldValues, newValues []byte, meta models.RequestMeta) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "courses",
		ResourceID: &courseID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record course audit log", zap.String("action", action), zap.Error(err))
	}
}
