package models

import "time"

// Lesson belongs to exactly one course.
type Lesson struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	Duration  int       `db:"duration" json:"duration"`
	VideoKey  *string   `db:"video_key" json:"-"`
	VideoURL  *string   `db:"video_url" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasVideo reports whether an object is attached to the lesson.
func (l *Lesson) HasVideo() bool {
	return l.VideoKey != nil && *l.VideoKey != ""
}

// LessonView is the lesson shape returned to clients.
type LessonView struct {
	Lesson
	HasVideo bool `json:"has_video"`
}

// NewLessonView wraps l for rendering.
func NewLessonView(l Lesson) LessonView {
	return LessonView{Lesson: l, HasVideo: l.HasVideo()}
}

// VideoLink is a time-limited playback URL.
type VideoLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
