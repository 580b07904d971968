package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academix-api/internal/models"
)

const userColumns = `id, name, email, contact, password_hash, role, password_reset_token, password_reset_expires, password_reset_attempts, password_changed_at, created_at, updated_at`

// UserRepository provides database access for user management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "find user by email", `SELECT `+userColumns+` FROM users WHERE email = $1 LIMIT 1`, strings.ToLower(email))
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "find user by id", `SELECT `+userColumns+` FROM users WHERE id = $1 LIMIT 1`, id)
}

// FindByResetToken returns the user holding an unexpired reset token digest.
func (r *UserRepository) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	return r.findOne(ctx, "find user by reset token", `SELECT `+userColumns+` FROM users WHERE password_reset_token = $1 AND password_reset_expires > $2 LIMIT 1`, tokenHash, now)
}

// FindByIDs loads every user whose id is listed.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build find users query: %w", err)
	}
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find users by ids: %w", err)
	}
	return users, nil
}

func (r *UserRepository) findOne(ctx context.Context, op, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(email LIKE $%d OR name LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"email":      true,
		"name":       true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page, pageSize := normalisePage(filter.Page, filter.PageSize, 20)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, name, email, contact, password_hash, role, created_at, updated_at) VALUES (:id, :name, :email, :contact, :password_hash, :role, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return mapWriteError("create user", err)
	}
	return nil
}

// Update writes the profile fields and role of a user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET name = :name, email = :email, contact = :contact, role = :role, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return mapWriteError("update user", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdatePassword stores a new hash, stamps password_changed_at and clears any
// outstanding reset token.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, password_changed_at = $3, password_reset_token = NULL, password_reset_expires = NULL, password_reset_attempts = 0, updated_at = $3 WHERE id = $1`
	n, err := execAffected(ctx, r.db, "update password", query, id, passwordHash, changedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetResetToken records a reset token digest and counts the attempt.
func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	const query = `UPDATE users SET password_reset_token = $2, password_reset_expires = $3, password_reset_attempts = password_reset_attempts + 1, updated_at = $4 WHERE id = $1`
	_, err := execAffected(ctx, r.db, "set reset token", query, id, tokenHash, expiresAt, time.Now().UTC())
	return err
}

// ClearResetToken removes the reset token without touching the attempt counter.
func (r *UserRepository) ClearResetToken(ctx context.Context, id string) error {
	const query = `UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL, updated_at = $2 WHERE id = $1`
	_, err := execAffected(ctx, r.db, "clear reset token", query, id, time.Now().UTC())
	return err
}

// PurgeExpiredResetTokens clears reset tokens past their expiry and resets
// the attempt counter of those users.
func (r *UserRepository) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE users SET password_reset_token = NULL, password_reset_expires = NULL, password_reset_attempts = 0, updated_at = $1 WHERE password_reset_expires IS NOT NULL AND password_reset_expires <= $1`
	return execAffected(ctx, r.db, "purge expired reset tokens", query, now)
}

// DeleteTx removes the user row inside tx and reports whether it existed.
func (r *UserRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	n, err := execAffected(ctx, tx, "delete user", `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :user_id, :token_hash, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return mapWriteError("create refresh token", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by its digest.
func (r *UserRepository) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	_, err := execAffected(ctx, r.db, "revoke refresh token", query, id, revokedAt)
	return err
}

// RevokeUserRefreshTokens revokes all refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	_, err := execAffected(ctx, r.db, "revoke user refresh tokens", query, userID, time.Now().UTC())
	return err
}

// PurgeExpiredRefreshTokens deletes refresh tokens past their expiry.
func (r *UserRepository) PurgeExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	return execAffected(ctx, r.db, "purge refresh tokens", `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func normalisePage(page, size, fallback int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = fallback
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
