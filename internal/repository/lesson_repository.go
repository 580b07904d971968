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

const lessonColumns = `id, course_id, title, content, duration, video_key, video_url, created_at, updated_at`

// LessonRepository persists lessons.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository creates a new LessonRepository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// ListByCourse returns the lessons of a course in creation order.
func (r *LessonRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Lesson, error) {
	lessons := []models.Lesson{}
	if err := r.db.SelectContext(ctx, &lessons, `SELECT `+lessonColumns+` FROM lessons WHERE course_id = $1 ORDER BY created_at`, courseID); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// FindByID returns a lesson by id.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find lesson: %w", err)
	}
	return &lesson, nil
}

// CreateTx inserts a lesson.
func (r *LessonRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lesson.CreatedAt = now
	lesson.UpdatedAt = now
	const query = `INSERT INTO lessons (id, course_id, title, content, duration, created_at, updated_at) VALUES (:id, :course_id, :title, :content, :duration, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, lesson); err != nil {
		return mapWriteError("create lesson", err)
	}
	return nil
}

// Update writes the editable lesson fields.
func (r *LessonRepository) Update(ctx context.Context, lesson *models.Lesson) error {
	lesson.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lessons SET title = $2, content = $3, duration = $4, updated_at = $5 WHERE id = $1`
	n, err := execAffected(ctx, r.db, "update lesson", query, lesson.ID, lesson.Title, lesson.Content, lesson.Duration, lesson.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetVideo records the object key and durable URL of the lesson video.
// Passing nil clears both.
func (r *LessonRepository) SetVideo(ctx context.Context, id string, key, url *string) error {
	const query = `UPDATE lessons SET video_key = $2, video_url = $3, updated_at = $4 WHERE id = $1`
	n, err := execAffected(ctx, r.db, "set lesson video", query, id, key, url, time.Now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteTx removes one lesson and reports whether it existed.
func (r *LessonRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	n, err := execAffected(ctx, tx, "delete lesson", `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// VideoKeysByCourseTx lists the object keys referenced by a course's lessons.
func (r *LessonRepository) VideoKeysByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) ([]string, error) {
	keys := []string{}
	if err := tx.SelectContext(ctx, &keys, `SELECT video_key FROM lessons WHERE course_id = $1 AND video_key IS NOT NULL`, courseID); err != nil {
		return nil, fmt.Errorf("list lesson video keys: %w", err)
	}
	return keys, nil
}

// DeleteByCourseTx removes every lesson of a course.
func (r *LessonRepository) DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	return execAffected(ctx, tx, "delete course lessons", `DELETE FROM lessons WHERE course_id = $1`, courseID)
}

// CountByCourseTx counts the lessons of a course.
func (r *LessonRepository) CountByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int, error) {
	var total int
	if err := tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM lessons WHERE course_id = $1`, courseID); err != nil {
		return 0, fmt.Errorf("count lessons: %w", err)
	}
	return total, nil
}
