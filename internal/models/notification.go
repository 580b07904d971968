package models

// NotificationKind names a transactional e-mail.
type NotificationKind string

const (
	NotificationWelcome     NotificationKind = "welcome"
	NotificationEnrollment  NotificationKind = "enrollment"
	NotificationPaymentLink NotificationKind = "payment_link"
)

// Notification is the payload carried by a notification job.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	To          string           `json:"to"`
	Name        string           `json:"name"`
	CourseID    string           `json:"course_id,omitempty"`
	CourseTitle string           `json:"course_title,omitempty"`
	Link        string           `json:"link,omitempty"`
}
