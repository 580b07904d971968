package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academix-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "postgres")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func beginTx(t *testing.T, db *sqlx.DB, mock sqlmock.Sqlmock) *sqlx.Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := db.Beginx()
	require.NoError(t, err)
	return tx
}

var userRowColumns = []string{"id", "name", "email", "contact", "password_hash", "role", "password_reset_token", "password_reset_expires", "password_reset_attempts", "password_changed_at", "created_at", "updated_at"}

func TestFindByEmailLowercases(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("1", "alice", "alice@example.com", "0123456789", "hash", string(models.RoleStudent), nil, nil, 0, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + userColumns + " FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.Nil(t, user.PasswordChangedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users (id, name, email, contact, password_hash, role, created_at, updated_at)")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_contact_key"})

	err := repo.Create(context.Background(), &models.User{Name: "alice", Email: "a@example.com", Contact: "0123456789", Role: models.RoleStudent})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, "users_contact_key", DuplicateConstraint(err))
}

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateRefreshToken(context.Background(), &models.RefreshToken{ID: "1", UserID: "u1", TokenHash: "digest", ExpiresAt: time.Now(), CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsers(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	role := models.RoleInstructor
	listRows := sqlmock.NewRows(userRowColumns).
		AddRow("1", "ada", "ada@example.com", "0123456789", "hash", string(role), nil, nil, 0, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + userColumns + " FROM users WHERE 1=1 AND role = $1 ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs(role).
		WillReturnRows(listRows)

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE 1=1 AND role = $1")).WithArgs(role).WillReturnRows(countRows)

	users, total, err := repo.List(context.Background(), models.UserFilter{Role: &role})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordClearsResetState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	changedAt := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2, password_changed_at = $3, password_reset_token = NULL, password_reset_expires = NULL, password_reset_attempts = 0")).
		WithArgs("u1", "new-hash", changedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePassword(context.Background(), "u1", "new-hash", changedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetResetTokenIncrementsAttempts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	expires := time.Now().Add(10 * time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("password_reset_attempts = password_reset_attempts + 1")).
		WithArgs("u1", "digest", expires, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetResetToken(context.Background(), "u1", "digest", expires))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpiredResetTokens(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("WHERE password_reset_expires IS NOT NULL AND password_reset_expires <= $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.PurgeExpiredResetTokens(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDeleteUserTx(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	tx := beginTx(t, db, mock)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.DeleteTx(context.Background(), tx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
}
