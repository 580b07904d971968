package models

import "time"

// Audit actions recorded by services and the audit middleware.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionSignup         = "SIGNUP"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionPasswordReset  = "PASSWORD_RESET"

	AuditActionUserCreate = "USER_CREATE"
	AuditActionUserUpdate = "USER_UPDATE"
	AuditActionUserDelete = "USER_DELETE"

	AuditActionCourseCreate = "COURSE_CREATE"
	AuditActionCourseUpdate = "COURSE_UPDATE"
	AuditActionCourseDelete = "COURSE_DELETE"

	AuditActionLessonDelete     = "LESSON_DELETE"
	AuditActionReviewDelete     = "REVIEW_DELETE"
	AuditActionEnroll           = "ENROLL"
	AuditActionEnrollmentDelete = "ENROLLMENT_DELETE"
	AuditActionCheckout         = "CHECKOUT"
)

// AuditLog is one row of the audit trail. Values hold JSON snapshots.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
