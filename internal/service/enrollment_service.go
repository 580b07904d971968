package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/policy"
	"github.com/noah-isme/academix-api/internal/repository"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
	"github.com/noah-isme/academix-api/pkg/export"
)

type enrollmentRepository interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Exists(ctx context.Context, studentID, courseID string) (bool, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	ListRoster(ctx context.Context, courseID string) ([]models.RosterEntry, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// EnrollRequest enrolls the caller, or for administrators the named student.
type EnrollRequest struct {
	CourseID  string `json:"course" validate:"required"`
	StudentID string `json:"student" validate:"omitempty"`
}

// EnrollmentService is the single gate through which enrollments are created.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   courseReader
	users     userReader
	notifier  Notifier
	exporter  *export.Exporter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseReader, users userReader, notifier Notifier, exporter *export.Exporter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if exporter == nil {
		exporter = export.NewExporter()
	}
	return &EnrollmentService{
		repo:      repo,
		courses:   courses,
		users:     users,
		notifier:  notifier,
		exporter:  exporter,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Enroll creates a direct enrollment.
func (s *EnrollmentService) Enroll(ctx context.Context, actor *policy.Actor, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	studentID := actor.ID
	if req.StudentID != "" && req.StudentID != actor.ID {
		if !policy.IsAdmin(*actor) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only enroll yourself")
		}
		studentID = req.StudentID
	}

	return s.enroll(ctx, req.CourseID, studentID, models.EnrollmentSourceDirect)
}

// EnrollFromPayment runs the gate for a completed checkout. A student who is
// already enrolled yields the existing enrollment and created == false.
func (s *EnrollmentService) EnrollFromPayment(ctx context.Context, courseID, studentID string) (*models.Enrollment, bool, error) {
	enrollment, err := s.enroll(ctx, courseID, studentID, models.EnrollmentSourcePayment)
	if err == nil {
		return enrollment, true, nil
	}
	if errors.Is(err, appErrors.ErrConflict) {
		existing, findErr := s.repo.FindByStudentAndCourse(ctx, studentID, courseID)
		if findErr != nil {
			return nil, false, appErrors.Wrap(findErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		return existing, false, nil
	}
	return nil, false, err
}

func (s *EnrollmentService) enroll(ctx context.Context, courseID, studentID string, source models.EnrollmentSource) (*models.Enrollment, error) {
	var (
		course  *models.Course
		student *models.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.courses.FindByID(gctx, courseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		course = c
		return nil
	})
	g.Go(func() error {
		u, err := s.users.FindByID(gctx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		student = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only students can be enrolled")
	}

	exists, err := s.repo.Exists(ctx, student.ID, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
	}

	now := time.Now().UTC()
	enrollment := &models.Enrollment{
		ID:               uuid.NewString(),
		StudentID:        student.ID,
		CourseID:         course.ID,
		EnrolledAt:       now,
		Progress:         0,
		Source:           source,
		CompletedLessons: []models.CompletedLesson{},
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.metrics.RecordEnrollment(string(source))
	if s.notifier != nil {
		s.notifier.Notify(ctx, models.Notification{
			Kind:        models.NotificationEnrollment,
			To:          student.Email,
			Name:        student.Name,
			CourseID:    course.ID,
			CourseTitle: course.Title,
		})
	}
	s.logger.Info("student enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("course_id", course.ID),
		zap.String("student_id", student.ID),
		zap.String("source", string(source)),
	)
	return enrollment, nil
}

// Get returns an enrollment visible to its student or an administrator.
func (s *EnrollmentService) Get(ctx context.Context, actor *policy.Actor, id string) (*models.Enrollment, error) {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionView, policy.Resource{Kind: policy.KindEnrollment, OwnerID: enrollment.StudentID}); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ListByStudent returns a student's enrollments to the student or an administrator.
func (s *EnrollmentService) ListByStudent(ctx context.Context, actor *policy.Actor, studentID string) ([]models.Enrollment, error) {
	if err := policy.Authorize(actor, policy.ActionView, policy.Resource{Kind: policy.KindEnrollment, OwnerID: studentID}); err != nil {
		return nil, err
	}
	enrollments, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if enrollments == nil {
		enrollments = []models.Enrollment{}
	}
	return enrollments, nil
}

// Roster lists the students of a course for its staff.
func (s *EnrollmentService) Roster(ctx context.Context, actor *policy.Actor, courseID string) ([]models.RosterEntry, error) {
	_, roster, err := s.roster(ctx, actor, courseID)
	return roster, err
}

// ExportRoster renders the course roster as CSV or PDF.
func (s *EnrollmentService) ExportRoster(ctx context.Context, actor *policy.Actor, courseID string, format export.Format) (*export.File, error) {
	course, roster, err := s.roster(ctx, actor, courseID)
	if err != nil {
		return nil, err
	}

	headers := []string{"Student", "Email", "Progress", "Source", "Enrolled At"}
	rows := make([]map[string]string, 0, len(roster))
	for _, entry := range roster {
		rows = append(rows, map[string]string{
			"Student":     entry.StudentName,
			"Email":       entry.StudentEmail,
			"Progress":    strconv.FormatFloat(entry.Progress, 'f', 1, 64) + "%",
			"Source":      string(entry.Source),
			"Enrolled At": entry.EnrolledAt.UTC().Format(time.RFC3339),
		})
	}

	file, err := s.exporter.Render(format, fmt.Sprintf("roster-%s", course.ID), export.Dataset{
		Title:   fmt.Sprintf("Roster: %s", course.Title),
		Headers: headers,
		Rows:    rows,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return file, nil
}

func (s *EnrollmentService) roster(ctx context.Context, actor *policy.Actor, courseID string) (*models.Course, []models.RosterEntry, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := policy.Authorize(actor, policy.ActionViewRoster, policy.Resource{Kind: policy.KindCourse, Course: course}); err != nil {
		return nil, nil, err
	}
	roster, err := s.repo.ListRoster(ctx, courseID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	if roster == nil {
		roster = []models.RosterEntry{}
	}
	return course, roster, nil
}

// Delete removes an enrollment; administrators only.
func (s *EnrollmentService) Delete(ctx context.Context, actor *policy.Actor, id string) error {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, policy.ActionDelete, policy.Resource{Kind: policy.KindEnrollment, OwnerID: enrollment.StudentID}); err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return nil
}

func (s *EnrollmentService) load(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}
