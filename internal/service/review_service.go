package service

import (
	"context"
	"database/sql"
	"errors"
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
)

type reviewRepository interface {
	ratingSource
	ListByCourse(ctx context.Context, courseID string) ([]models.Review, error)
	FindByID(ctx context.Context, id string) (*models.Review, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error
	UpdateTx(ctx context.Context, tx *sqlx.Tx, review *models.Review) error
	DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error)
}

type reviewCourseStore interface {
	courseReader
	ratingWriter
}

// CreateReviewRequest is a student's review of a course.
type CreateReviewRequest struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Review string `json:"review" validate:"required,max=2000"`
}

// UpdateReviewRequest is a partial review update.
type UpdateReviewRequest struct {
	Rating *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Review *string `json:"review" validate:"omitempty,min=1,max=2000"`
}

// ReviewService manages reviews and keeps course ratings in step with them.
type ReviewService struct {
	repo      reviewRepository
	courses   reviewCourseStore
	tx        database.Transactor
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReviewService constructs a ReviewService.
func NewReviewService(repo reviewRepository, courses reviewCourseStore, tx database.Transactor, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ReviewService{
		repo:      repo,
		courses:   courses,
		tx:        tx,
		cache:     cache,
		validator: validate,
		logger:    logger,
	}
}

// ListByCourse returns the reviews of a course.
func (s *ReviewService) ListByCourse(ctx context.Context, courseID string) ([]models.Review, error) {
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, err
	}
	reviews, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviews")
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	return reviews, nil
}

// Get returns a review by id.
func (s *ReviewService) Get(ctx context.Context, id string) (*models.Review, error) {
	return s.load(ctx, id)
}

// Create stores a review by a student and recomputes the course rating.
func (s *ReviewService) Create(ctx context.Context, actor *policy.Actor, courseID string, req CreateReviewRequest) (*models.Review, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can review courses")
	}
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	review := &models.Review{
		ID:        uuid.NewString(),
		CourseID:  courseID,
		UserID:    actor.ID,
		Rating:    req.Rating,
		Review:    strings.TrimSpace(req.Review),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var rating float64
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.CreateTx(ctx, tx, review); err != nil {
			return err
		}
		var err error
		rating, err = recomputeRating(ctx, tx, s.repo, s.courses, courseID, "")
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you have already reviewed this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create review")
	}

	s.cache.InvalidateCourses(ctx)
	s.logger.Info("review created",
		zap.String("review_id", review.ID),
		zap.String("course_id", courseID),
		zap.Float64("course_rating", rating),
	)
	return review, nil
}

// Update changes a review's rating or text; the author or an administrator only.
func (s *ReviewService) Update(ctx context.Context, actor *policy.Actor, id string, req UpdateReviewRequest) (*models.Review, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	review, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ActionUpdate, policy.Resource{Kind: policy.KindReview, OwnerID: review.UserID}); err != nil {
		return nil, err
	}

	if req.Rating != nil {
		review.Rating = *req.Rating
	}
	if req.Review != nil {
		review.Review = strings.TrimSpace(*req.Review)
	}
	review.UpdatedAt = time.Now().UTC()

	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.UpdateTx(ctx, tx, review); err != nil {
			return err
		}
		_, err := recomputeRating(ctx, tx, s.repo, s.courses, review.CourseID, "")
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update review")
	}

	s.cache.InvalidateCourses(ctx)
	return review, nil
}

// Delete removes a review and recomputes the course rating without it.
func (s *ReviewService) Delete(ctx context.Context, actor *policy.Actor, id string) error {
	review, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, policy.ActionDelete, policy.Resource{Kind: policy.KindReview, OwnerID: review.UserID}); err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		deleted, err := s.repo.DeleteTx(ctx, tx, review.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return sql.ErrNoRows
		}
		_, err = recomputeRating(ctx, tx, s.repo, s.courses, review.CourseID, review.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete review")
	}

	s.cache.InvalidateCourses(ctx)
	s.logger.Info("review deleted", zap.String("review_id", id), zap.String("course_id", review.CourseID))
	return nil
}

func (s *ReviewService) load(ctx context.Context, id string) (*models.Review, error) {
	review, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review")
	}
	return review, nil
}

func (s *ReviewService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}
