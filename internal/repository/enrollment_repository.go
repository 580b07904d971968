package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academix-api/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, enrolled_at, progress, source, created_at, updated_at`

// EnrollmentRepository persists enrollments and their completed lesson sets.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts an enrollment. A concurrent duplicate surfaces as ErrDuplicate.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.EnrolledAt = now
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	enrollment.CompletedLessons = []models.CompletedLesson{}
	const query = `INSERT INTO enrollments (id, student_id, course_id, enrolled_at, progress, source, created_at, updated_at) VALUES (:id, :student_id, :course_id, :enrolled_at, :progress, :source, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return mapWriteError("create enrollment", err)
	}
	return nil
}

// FindByID returns an enrollment with its completed lessons.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.findOne(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)
}

// FindByStudentAndCourse returns the enrollment of a student in a course.
func (r *EnrollmentRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	return r.findOne(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
}

func (r *EnrollmentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	completed := []models.CompletedLesson{}
	if err := r.db.SelectContext(ctx, &completed, `SELECT enrollment_id, lesson_id, completed_at FROM enrollment_lessons WHERE enrollment_id = $1 ORDER BY completed_at`, enrollment.ID); err != nil {
		return nil, fmt.Errorf("load completed lessons: %w", err)
	}
	enrollment.CompletedLessons = completed
	return &enrollment, nil
}

// Exists reports whether the student is enrolled in the course.
func (r *EnrollmentRepository) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2)`, studentID, courseID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// ListByStudent returns every enrollment of a student, newest first.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	enrollments := []models.Enrollment{}
	if err := r.db.SelectContext(ctx, &enrollments, `SELECT `+enrollmentColumns+` FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at DESC`, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListRoster returns the students enrolled in a course.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, courseID string) ([]models.RosterEntry, error) {
	const query = `SELECT e.id AS enrollment_id, e.student_id, u.name AS student_name, u.email AS student_email, e.progress, e.source, e.enrolled_at
		FROM enrollments e
		JOIN users u ON u.id = e.student_id
		WHERE e.course_id = $1
		ORDER BY u.name`
	roster := []models.RosterEntry{}
	if err := r.db.SelectContext(ctx, &roster, query, courseID); err != nil {
		return nil, fmt.Errorf("list course roster: %w", err)
	}
	return roster, nil
}

// Delete removes an enrollment and reports whether it existed.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) (bool, error) {
	n, err := execAffected(ctx, r.db, "delete enrollment", `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddCompletedLessonTx inserts into the completed set. A repeated lesson
// surfaces as ErrDuplicate.
func (r *EnrollmentRepository) AddCompletedLessonTx(ctx context.Context, tx *sqlx.Tx, enrollmentID, lessonID string, completedAt time.Time) error {
	const query = `INSERT INTO enrollment_lessons (enrollment_id, lesson_id, completed_at) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, query, enrollmentID, lessonID, completedAt); err != nil {
		return mapWriteError("complete lesson", err)
	}
	return nil
}

// CountCompletedTx counts the completed lessons of an enrollment.
func (r *EnrollmentRepository) CountCompletedTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string) (int, error) {
	var completed int
	if err := tx.GetContext(ctx, &completed, `SELECT COUNT(*) FROM enrollment_lessons WHERE enrollment_id = $1`, enrollmentID); err != nil {
		return 0, fmt.Errorf("count completed lessons: %w", err)
	}
	return completed, nil
}

// UpdateProgressTx stores the aggregated progress of one enrollment.
func (r *EnrollmentRepository) UpdateProgressTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string, progress float64) error {
	_, err := execAffected(ctx, tx, "update progress", `UPDATE enrollments SET progress = $2, updated_at = $3 WHERE id = $1`, enrollmentID, progress, time.Now().UTC())
	return err
}

// RecomputeCourseProgressTx refreshes the progress of every enrollment of a
// course after its lesson count changed.
func (r *EnrollmentRepository) RecomputeCourseProgressTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	const query = `UPDATE enrollments e SET progress = CASE WHEN lc.total = 0 THEN 0
			ELSE LEAST(100, ((SELECT COUNT(*) FROM enrollment_lessons el WHERE el.enrollment_id = e.id)::float8 / lc.total::float8) * 100) END,
			updated_at = $2
		FROM (SELECT COUNT(*) AS total FROM lessons WHERE course_id = $1) lc
		WHERE e.course_id = $1`
	return execAffected(ctx, tx, "recompute course progress", query, courseID, time.Now().UTC())
}

// DeleteByCourseTx removes every enrollment of a course.
func (r *EnrollmentRepository) DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	return execAffected(ctx, tx, "delete course enrollments", `DELETE FROM enrollments WHERE course_id = $1`, courseID)
}

// DeleteByStudentTx removes every enrollment of a student.
func (r *EnrollmentRepository) DeleteByStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) (int64, error) {
	return execAffected(ctx, tx, "delete student enrollments", `DELETE FROM enrollments WHERE student_id = $1`, studentID)
}
