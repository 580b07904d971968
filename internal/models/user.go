package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleInstructor UserRole = "INSTRUCTOR"
	RoleStudent    UserRole = "STUDENT"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleInstructor, RoleStudent:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID                    string     `db:"id" json:"id"`
	Name                  string     `db:"name" json:"name"`
	Email                 string     `db:"email" json:"email"`
	Contact               string     `db:"contact" json:"contact"`
	PasswordHash          string     `db:"password_hash" json:"-"`
	Role                  UserRole   `db:"role" json:"role"`
	PasswordResetToken    *string    `db:"password_reset_token" json:"-"`
	PasswordResetExpires  *time.Time `db:"password_reset_expires" json:"-"`
	PasswordResetAttempts int        `db:"password_reset_attempts" json:"-"`
	PasswordChangedAt     *time.Time `db:"password_changed_at" json:"-"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// ChangedPasswordAfter reports whether the password changed after a token
// issued at issuedAt. JWT timestamps have second precision.
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.Truncate(time.Second).After(issuedAt)
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// RequestMeta carries caller details recorded in audit logs.
type RequestMeta struct {
	IP        string
	UserAgent string
}
