package models

import "time"

// Course is a catalog entry.
type Course struct {
	ID          string             `db:"id" json:"id"`
	Title       string             `db:"title" json:"title"`
	Description string             `db:"description" json:"description"`
	Category    string             `db:"category" json:"category"`
	PriceCents  int64              `db:"price_cents" json:"price_cents"`
	CreatedBy   *string            `db:"created_by" json:"created_by,omitempty"`
	Rating      float64            `db:"rating" json:"rating"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
	Instructors []CourseInstructor `db:"-" json:"instructors"`
	Lessons     []LessonSummary    `db:"-" json:"lessons"`
}

// InstructorIDs returns the user ids of every instructor reference.
func (c *Course) InstructorIDs() []string {
	ids := make([]string, 0, len(c.Instructors))
	for _, in := range c.Instructors {
		ids = append(ids, in.UserID)
	}
	return ids
}

// IsFree reports whether the course can be joined without payment.
func (c *Course) IsFree() bool {
	return c.PriceCents == 0
}

// CourseInstructor is a denormalised instructor reference.
type CourseInstructor struct {
	CourseID string `db:"course_id" json:"-"`
	UserID   string `db:"user_id" json:"id"`
	Name     string `db:"name" json:"name"`
	Email    string `db:"email" json:"email"`
}

// LessonSummary is the lesson projection embedded in course responses.
type LessonSummary struct {
	ID       string `db:"id" json:"id"`
	CourseID string `db:"course_id" json:"-"`
	Title    string `db:"title" json:"title"`
	Duration int    `db:"duration" json:"duration"`
}

// CourseFilter captures catalog listing criteria.
type CourseFilter struct {
	Category string
	Page     int
	Limit    int
}
