package models

import "time"

// EnrollmentSource records how an enrollment was created.
type EnrollmentSource string

const (
	EnrollmentSourceDirect  EnrollmentSource = "DIRECT"
	EnrollmentSourcePayment EnrollmentSource = "PAYMENT"
)

// Enrollment links a student to a course and tracks progress.
type Enrollment struct {
	ID               string            `db:"id" json:"id"`
	StudentID        string            `db:"student_id" json:"student_id"`
	CourseID         string            `db:"course_id" json:"course_id"`
	EnrolledAt       time.Time         `db:"enrolled_at" json:"enrolled_at"`
	Progress         float64           `db:"progress" json:"progress"`
	Source           EnrollmentSource  `db:"source" json:"source"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
	CompletedLessons []CompletedLesson `db:"-" json:"completed_lessons"`
}

// CompletedLesson is a member of an enrollment's completed set.
type CompletedLesson struct {
	EnrollmentID string    `db:"enrollment_id" json:"-"`
	LessonID     string    `db:"lesson_id" json:"lesson_id"`
	CompletedAt  time.Time `db:"completed_at" json:"completed_at"`
}

// RosterEntry is one student row of a course roster.
type RosterEntry struct {
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	StudentName  string           `db:"student_name" json:"student_name"`
	StudentEmail string           `db:"student_email" json:"student_email"`
	Progress     float64          `db:"progress" json:"progress"`
	Source       EnrollmentSource `db:"source" json:"source"`
	EnrolledAt   time.Time        `db:"enrolled_at" json:"enrolled_at"`
}
