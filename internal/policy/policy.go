// Package policy centralises resource-level authorization. Route middleware
// gates on role; services call Authorize once the resource is loaded.
package policy

import (
	"github.com/noah-isme/academix-api/internal/models"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
)

// Action is an operation on a resource.
type Action string

const (
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionView        Action = "view"
	ActionComplete    Action = "complete"
	ActionUploadVideo Action = "upload_video"
	ActionDeleteVideo Action = "delete_video"
	ActionViewVideo   Action = "view_video"
	ActionViewRoster  Action = "view_roster"
)

// Kind is a resource type.
type Kind string

const (
	KindCourse     Kind = "course"
	KindLesson     Kind = "lesson"
	KindReview     Kind = "review"
	KindEnrollment Kind = "enrollment"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role models.UserRole
}

// Resource carries the attributes predicates inspect. Course is the course
// itself or, for lessons, the parent course. OwnerID is the review author or
// the enrolled student. Enrolled is resolved by the caller.
type Resource struct {
	Kind     Kind
	Course   *models.Course
	OwnerID  string
	Enrolled bool
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool
	Rule    string
}

// IsAdmin reports whether the actor has the admin role.
func IsAdmin(actor Actor) bool {
	return actor.Role == models.RoleAdmin
}

// IsInstructorOf reports whether userID is listed among the course instructors.
func IsInstructorOf(course *models.Course, userID string) bool {
	if course == nil || userID == "" {
		return false
	}
	for _, in := range course.Instructors {
		if in.UserID == userID {
			return true
		}
	}
	return false
}

// IsCreatorOf reports whether userID created the course.
func IsCreatorOf(course *models.Course, userID string) bool {
	return course != nil && userID != "" && course.CreatedBy != nil && *course.CreatedBy == userID
}

// IsEnrolled reports whether the caller-resolved enrollment relation holds.
func IsEnrolled(res Resource, userID string) bool {
	return userID != "" && res.Enrolled
}

// IsAuthor reports whether userID owns the resource.
func IsAuthor(res Resource, userID string) bool {
	return userID != "" && res.OwnerID == userID
}

type rule struct {
	name  string
	check func(Actor, Resource) bool
}

var (
	admin        = rule{"admin", func(a Actor, _ Resource) bool { return IsAdmin(a) }}
	instructor   = rule{"instructor", func(a Actor, _ Resource) bool { return a.Role == models.RoleInstructor }}
	instructorOf = rule{"instructor_of", func(a Actor, r Resource) bool { return IsInstructorOf(r.Course, a.ID) }}
	creatorOf    = rule{"creator_of", func(a Actor, r Resource) bool { return IsCreatorOf(r.Course, a.ID) }}
	enrolled     = rule{"enrolled", func(a Actor, r Resource) bool { return IsEnrolled(r, a.ID) }}
	author       = rule{"author", func(a Actor, r Resource) bool { return IsAuthor(r, a.ID) }}
	owner        = rule{"owner", func(a Actor, r Resource) bool { return IsAuthor(r, a.ID) }}

	enrolledStudent = rule{"enrolled_student", func(a Actor, r Resource) bool {
		return a.Role == models.RoleStudent && IsEnrolled(r, a.ID)
	}}
)

type key struct {
	action Action
	kind   Kind
}

var rules = map[key][]rule{
	{ActionCreate, KindCourse}:      {admin, instructor},
	{ActionUpdate, KindCourse}:      {admin, instructorOf, creatorOf},
	{ActionDelete, KindCourse}:      {admin, instructorOf, creatorOf},
	{ActionViewRoster, KindCourse}:  {admin, instructorOf, creatorOf},
	{ActionCreate, KindLesson}:      {admin, instructorOf, creatorOf},
	{ActionUpdate, KindLesson}:      {admin, instructorOf, creatorOf},
	{ActionDelete, KindLesson}:      {admin, instructorOf, creatorOf},
	{ActionUploadVideo, KindLesson}: {admin, instructorOf, creatorOf},
	{ActionDeleteVideo, KindLesson}: {admin, instructorOf, creatorOf},
	{ActionViewVideo, KindLesson}:   {admin, instructorOf, creatorOf, enrolled},
	{ActionComplete, KindLesson}:    {enrolledStudent},
	{ActionUpdate, KindReview}:      {admin, author},
	{ActionDelete, KindReview}:      {admin, author},
	{ActionView, KindEnrollment}:    {admin, owner},
	{ActionDelete, KindEnrollment}:  {admin},
}

// Evaluate returns the first matching rule for (action, resource kind).
// Unknown pairs and a nil actor are denied.
func Evaluate(actor *Actor, action Action, res Resource) Decision {
	if actor == nil || actor.ID == "" {
		return Decision{}
	}
	for _, r := range rules[key{action, res.Kind}] {
		if r.check(*actor, res) {
			return Decision{Allowed: true, Rule: r.name}
		}
	}
	return Decision{}
}

// Authorize is Evaluate mapped onto the forbidden error.
func Authorize(actor *Actor, action Action, res Resource) error {
	if Evaluate(actor, action, res).Allowed {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "")
}
