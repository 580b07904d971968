package service

import (
	"context"
	"fmt"
	"math"

	"github.com/jmoiron/sqlx"
)

// courseRating is the mean of ratings rounded to one decimal, or 0 when no
// ratings remain.
func courseRating(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	avg := float64(sum) / float64(len(ratings))
	return math.Round(avg*10) / 10
}

// enrollmentProgress is the completed share of a course's lessons as a
// percentage, or 0 when the course has no lessons.
func enrollmentProgress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	progress := float64(completed) / float64(total) * 100
	if progress > 100 {
		return 100
	}
	return progress
}

type ratingSource interface {
	RatingsByCourseTx(ctx context.Context, tx *sqlx.Tx, courseID, excludeID string) ([]int, error)
}

type ratingWriter interface {
	UpdateRatingTx(ctx context.Context, tx *sqlx.Tx, courseID string, rating float64) error
}

// recomputeRating rewrites the stored rating of courseID from its reviews,
// ignoring excludeID, inside tx.
func recomputeRating(ctx context.Context, tx *sqlx.Tx, reviews ratingSource, courses ratingWriter, courseID, excludeID string) (float64, error) {
	ratings, err := reviews.RatingsByCourseTx(ctx, tx, courseID, excludeID)
	if err != nil {
		return 0, fmt.Errorf("load ratings for course %s: %w", courseID, err)
	}
	rating := courseRating(ratings)
	if err := courses.UpdateRatingTx(ctx, tx, courseID, rating); err != nil {
		return 0, fmt.Errorf("store rating for course %s: %w", courseID, err)
	}
	return rating, nil
}
