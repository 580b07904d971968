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

const courseColumns = `id, title, description, category, price_cents, created_by, rating, created_at, updated_at`

// CourseRepository persists courses and their instructor references.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns a page of courses, newest first, with relations attached.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	baseQuery := `FROM courses`
	var args []interface{}
	if filter.Category != "" {
		baseQuery += ` WHERE category = $1`
		args = append(args, filter.Category)
	}

	page, limit := normalisePage(filter.Page, filter.Limit, 10)
	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", courseColumns, baseQuery, limit, (page-1)*limit)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	if err := r.attachRelations(ctx, courses); err != nil {
		return nil, 0, err
	}
	return courses, total, nil
}

// FindByID returns a course with its instructors and lesson summaries.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	if err := r.db.GetContext(ctx, &course, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	courses := []models.Course{course}
	if err := r.attachRelations(ctx, courses); err != nil {
		return nil, err
	}
	return &courses[0], nil
}

func (r *CourseRepository) attachRelations(ctx context.Context, courses []models.Course) error {
	if len(courses) == 0 {
		return nil
	}
	ids := make([]string, len(courses))
	index := make(map[string]int, len(courses))
	for i := range courses {
		ids[i] = courses[i].ID
		index[courses[i].ID] = i
		courses[i].Instructors = []models.CourseInstructor{}
		courses[i].Lessons = []models.LessonSummary{}
	}

	query, args, err := sqlx.In(`SELECT ci.course_id, ci.user_id, ci.name, u.email FROM course_instructors ci JOIN users u ON u.id = ci.user_id WHERE ci.course_id IN (?) ORDER BY ci.name`, ids)
	if err != nil {
		return fmt.Errorf("build instructors query: %w", err)
	}
	var instructors []models.CourseInstructor
	if err := r.db.SelectContext(ctx, &instructors, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load course instructors: %w", err)
	}
	for _, in := range instructors {
		if i, ok := index[in.CourseID]; ok {
			courses[i].Instructors = append(courses[i].Instructors, in)
		}
	}

	query, args, err = sqlx.In(`SELECT id, course_id, title, duration FROM lessons WHERE course_id IN (?) ORDER BY created_at`, ids)
	if err != nil {
		return fmt.Errorf("build lessons query: %w", err)
	}
	var lessons []models.LessonSummary
	if err := r.db.SelectContext(ctx, &lessons, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load course lessons: %w", err)
	}
	for _, l := range lessons {
		if i, ok := index[l.CourseID]; ok {
			courses[i].Lessons = append(courses[i].Lessons, l)
		}
	}
	return nil
}

// CreateTx inserts the course and its instructor references.
func (r *CourseRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now

	const query = `INSERT INTO courses (id, title, description, category, price_cents, created_by, rating, created_at, updated_at) VALUES (:id, :title, :description, :category, :price_cents, :created_by, :rating, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, course); err != nil {
		return mapWriteError("create course", err)
	}
	return r.ReplaceInstructorsTx(ctx, tx, course.ID, course.Instructors)
}

// UpdateTx writes the mutable course fields.
func (r *CourseRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = $2, description = $3, category = $4, price_cents = $5, updated_at = $6 WHERE id = $1`
	n, err := execAffected(ctx, tx, "update course", query, course.ID, course.Title, course.Description, course.Category, course.PriceCents, course.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceInstructorsTx swaps the instructor references of a course.
func (r *CourseRepository) ReplaceInstructorsTx(ctx context.Context, tx *sqlx.Tx, courseID string, instructors []models.CourseInstructor) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM course_instructors WHERE course_id = $1`, courseID); err != nil {
		return fmt.Errorf("clear course instructors: %w", err)
	}
	for _, in := range instructors {
		if _, err := tx.ExecContext(ctx, `INSERT INTO course_instructors (course_id, user_id, name) VALUES ($1, $2, $3)`, courseID, in.UserID, in.Name); err != nil {
			return mapWriteError("insert course instructor", err)
		}
	}
	return nil
}

// UpdateRatingTx stores the aggregated rating of a course.
func (r *CourseRepository) UpdateRatingTx(ctx context.Context, tx *sqlx.Tx, courseID string, rating float64) error {
	_, err := execAffected(ctx, tx, "update course rating", `UPDATE courses SET rating = $2, updated_at = $3 WHERE id = $1`, courseID, rating, time.Now().UTC())
	return err
}

// DeleteTx removes the course row and reports whether it existed.
func (r *CourseRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	n, err := execAffected(ctx, tx, "delete course", `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
