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

const reviewSelect = `SELECT r.id, r.course_id, r.user_id, COALESCE(u.name, '') AS user_name, r.rating, r.review, r.created_at, r.updated_at FROM reviews r LEFT JOIN users u ON u.id = r.user_id`

// ReviewRepository persists course reviews.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// ListByCourse returns the reviews of a course, newest first.
func (r *ReviewRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Review, error) {
	reviews := []models.Review{}
	if err := r.db.SelectContext(ctx, &reviews, reviewSelect+` WHERE r.course_id = $1 ORDER BY r.created_at DESC`, courseID); err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

// FindByID returns a review by id.
func (r *ReviewRepository) FindByID(ctx context.Context, id string) (*models.Review, error) {
	var review models.Review
	if err := r.db.GetContext(ctx, &review, reviewSelect+` WHERE r.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find review: %w", err)
	}
	return &review, nil
}

// CreateTx inserts a review. A second review by the same user surfaces as ErrDuplicate.
func (r *ReviewRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now
	const query = `INSERT INTO reviews (id, course_id, user_id, rating, review, created_at, updated_at) VALUES (:id, :course_id, :user_id, :rating, :review, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, review); err != nil {
		return mapWriteError("create review", err)
	}
	return nil
}

// UpdateTx writes the rating and text of a review.
func (r *ReviewRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error {
	review.UpdatedAt = time.Now().UTC()
	n, err := execAffected(ctx, tx, "update review", `UPDATE reviews SET rating = $2, review = $3, updated_at = $4 WHERE id = $1`, review.ID, review.Rating, review.Review, review.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteTx removes a review and reports whether it existed.
func (r *ReviewRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	n, err := execAffected(ctx, tx, "delete review", `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RatingsByCourseTx returns the ratings of a course, skipping excludeID.
func (r *ReviewRepository) RatingsByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID, excludeID string) ([]int, error) {
	ratings := []int{}
	if err := tx.SelectContext(ctx, &ratings, `SELECT rating FROM reviews WHERE course_id = $1 AND id::text <> $2`, courseID, excludeID); err != nil {
		return nil, fmt.Errorf("list course ratings: %w", err)
	}
	return ratings, nil
}

// DeleteByCourseTx removes every review of a course.
func (r *ReviewRepository) DeleteByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	return execAffected(ctx, tx, "delete course reviews", `DELETE FROM reviews WHERE course_id = $1`, courseID)
}

// DeleteByUserTx removes every review written by a user and returns the
// distinct course ids that lost a review.
func (r *ReviewRepository) DeleteByUserTx(ctx context.Context, tx *sqlx.Tx, userID string) ([]string, error) {
	courseIDs := []string{}
	if err := tx.SelectContext(ctx, &courseIDs, `WITH removed AS (DELETE FROM reviews WHERE user_id = $1 RETURNING course_id) SELECT DISTINCT course_id FROM removed`, userID); err != nil {
		return nil, fmt.Errorf("delete user reviews: %w", err)
	}
	return courseIDs, nil
}
