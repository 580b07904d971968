package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/pkg/database"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type studentEnrollmentRemover interface {
	DeleteByStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) (int64, error)
}

type userReviewRemover interface {
	ratingSource
	DeleteByUserTx(ctx context.Context, tx *sqlx.Tx, userID string) ([]string, error)
}

// UserCascade groups the stores touched when a user is removed.
type UserCascade struct {
	Enrollments studentEnrollmentRemover
	Reviews     userReviewRemover
	Courses     ratingWriter
}

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Name     string          `json:"name" validate:"required,min=2,max=50"`
	Email    string          `json:"email" validate:"required,email"`
	Contact  string          `json:"contact" validate:"required,len=10,number"`
	Role     models.UserRole `json:"role" validate:"omitempty,oneof=ADMIN INSTRUCTOR STUDENT"`
	Password string          `json:"password" validate:"required,min=8"`
}

// UpdateUserRequest is a partial update; nil fields are left untouched.
// Role is only honoured for administrators.
type UpdateUserRequest struct {
	Name    *string          `json:"name" validate:"omitempty,min=2,max=50"`
	Email   *string          `json:"email" validate:"omitempty,email"`
	Contact *string          `json:"contact" validate:"omitempty,len=10,number"`
	Role    *models.UserRole `json:"role" validate:"omitempty,oneof=ADMIN INSTRUCTOR STUDENT"`
}

// UserService handles account management workflows.
type UserService struct {
	repo      userRepository
	cascade   UserCascade
	tx        database.Transactor
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, cascade UserCascade, tx database.Transactor, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, cascade: cascade, tx: tx, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds a new user on behalf of an administrator.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	role := req.Role
	if role == "" {
		role = models.RoleStudent
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         strings.ToLower(strings.TrimSpace(req.Name)),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Contact:      req.Contact,
		Role:         role,
		PasswordHash: string(passwordHash),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, userWriteError(err, "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	s.audit(ctx, actorID, models.AuditActionUserCreate, user.ID, nil, newPayload, meta)
	return user, nil
}

// Update modifies profile fields. allowRole is false for self-service updates.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, allowRole bool, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	if req.Role != nil && !allowRole {
		return nil, appErrors.Clone(appErrors.ErrValidation, "this route is not for role updates")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"name": user.Name, "email": user.Email, "contact": user.Contact, "role": user.Role})

	if req.Name != nil {
		user.Name = strings.ToLower(strings.TrimSpace(*req.Name))
	}
	if req.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Contact != nil {
		user.Contact = *req.Contact
	}
	if req.Role != nil {
		user.Role = *req.Role
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, userWriteError(err, "failed to update user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"name": user.Name, "email": user.Email, "contact": user.Contact, "role": user.Role})
	s.audit(ctx, actorID, models.AuditActionUserUpdate, user.ID, oldPayload, newPayload, meta)
	return user, nil
}

// Delete removes a user together with the enrollments and reviews they own,
// whatever their current role, and recomputes the rating of every course that
// lost a review, all in one transaction.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var enrollments int64
	var touched []string
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		// A former student keeps these rows after a role change.
		n, err := s.cascade.Enrollments.DeleteByStudentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		enrollments = n

		touched, err = s.cascade.Reviews.DeleteByUserTx(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, courseID := range touched {
			if _, err := recomputeRating(ctx, tx, s.cascade.Reviews, s.cascade.Courses, courseID, ""); err != nil {
				return err
			}
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
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	s.metrics.RecordCascade("user", "enrollments", enrollments)
	s.metrics.RecordCascade("user", "reviews", int64(len(touched)))
	if len(touched) > 0 {
		s.cache.InvalidateCourses(ctx)
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email, "role": user.Role})
	s.audit(ctx, actorID, models.AuditActionUserDelete, id, oldPayload, nil, meta)
	s.logger.Info("user deleted",
		zap.String("user_id", id),
		zap.Int64("enrollments_removed", enrollments),
		zap.Int("courses_rerated", len(touched)),
	)
	return nil
}

func (s *UserService) audit(ctx context.Context, actorID, action, resourceID string, oldValues, newValues []byte, meta models.RequestMeta) {
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     actor,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
