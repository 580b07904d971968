package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/academix-api/internal/models"
	appErrors "github.com/noah-isme/academix-api/pkg/errors"
)

func strPtr(s string) *string { return &s }

func sampleCourse() *models.Course {
	return &models.Course{
		ID:          "course-1",
		CreatedBy:   strPtr("creator"),
		Instructors: []models.CourseInstructor{{UserID: "inst-1", Name: "ada"}},
	}
}

func TestPredicates(t *testing.T) {
	course := sampleCourse()

	assert.True(t, IsAdmin(Actor{ID: "a", Role: models.RoleAdmin}))
	assert.False(t, IsAdmin(Actor{ID: "a", Role: models.RoleInstructor}))

	assert.True(t, IsInstructorOf(course, "inst-1"))
	assert.False(t, IsInstructorOf(course, "creator"))
	assert.False(t, IsInstructorOf(nil, "inst-1"))

	assert.True(t, IsCreatorOf(course, "creator"))
	assert.False(t, IsCreatorOf(&models.Course{}, "creator"))
	assert.False(t, IsCreatorOf(course, ""))

	assert.True(t, IsEnrolled(Resource{Enrolled: true}, "s1"))
	assert.False(t, IsEnrolled(Resource{}, "s1"))

	assert.True(t, IsAuthor(Resource{OwnerID: "s1"}, "s1"))
	assert.False(t, IsAuthor(Resource{OwnerID: ""}, ""))
}

func TestEvaluateTable(t *testing.T) {
	course := sampleCourse()
	adminActor := &Actor{ID: "admin", Role: models.RoleAdmin}
	instructor := &Actor{ID: "inst-1", Role: models.RoleInstructor}
	otherInstructor := &Actor{ID: "inst-2", Role: models.RoleInstructor}
	creator := &Actor{ID: "creator", Role: models.RoleInstructor}
	student := &Actor{ID: "s1", Role: models.RoleStudent}

	cases := []struct {
		name   string
		actor  *Actor
		action Action
		res    Resource
		want   bool
	}{
		{"admin creates course", adminActor, ActionCreate, Resource{Kind: KindCourse}, true},
		{"instructor creates course", otherInstructor, ActionCreate, Resource{Kind: KindCourse}, true},
		{"student cannot create course", student, ActionCreate, Resource{Kind: KindCourse}, false},
		{"instructor of updates course", instructor, ActionUpdate, Resource{Kind: KindCourse, Course: course}, true},
		{"creator deletes course", creator, ActionDelete, Resource{Kind: KindCourse, Course: course}, true},
		{"unrelated instructor cannot delete", otherInstructor, ActionDelete, Resource{Kind: KindCourse, Course: course}, false},
		{"instructor of adds lesson", instructor, ActionCreate, Resource{Kind: KindLesson, Course: course}, true},
		{"student cannot add lesson", student, ActionCreate, Resource{Kind: KindLesson, Course: course}, false},
		{"enrolled student views video", student, ActionViewVideo, Resource{Kind: KindLesson, Course: course, Enrolled: true}, true},
		{"unenrolled student cannot view video", student, ActionViewVideo, Resource{Kind: KindLesson, Course: course}, false},
		{"enrolled student completes lesson", student, ActionComplete, Resource{Kind: KindLesson, Course: course, Enrolled: true}, true},
		{"instructor cannot complete lesson", instructor, ActionComplete, Resource{Kind: KindLesson, Course: course, Enrolled: true}, false},
		{"author updates review", student, ActionUpdate, Resource{Kind: KindReview, OwnerID: "s1"}, true},
		{"other student cannot delete review", &Actor{ID: "s2", Role: models.RoleStudent}, ActionDelete, Resource{Kind: KindReview, OwnerID: "s1"}, false},
		{"admin deletes review", adminActor, ActionDelete, Resource{Kind: KindReview, OwnerID: "s1"}, true},
		{"owner views enrollment", student, ActionView, Resource{Kind: KindEnrollment, OwnerID: "s1"}, true},
		{"creator views roster", creator, ActionViewRoster, Resource{Kind: KindCourse, Course: course}, true},
		{"student cannot view roster", student, ActionViewRoster, Resource{Kind: KindCourse, Course: course}, false},
		{"unknown action fails closed", adminActor, Action("publish"), Resource{Kind: KindCourse}, false},
		{"nil actor fails closed", nil, ActionView, Resource{Kind: KindEnrollment}, false},
		{"missing course fails closed", instructor, ActionUpdate, Resource{Kind: KindCourse}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.actor, tc.action, tc.res).Allowed)
		})
	}
}

func TestAuthorizeReturnsForbidden(t *testing.T) {
	err := Authorize(&Actor{ID: "s1", Role: models.RoleStudent}, ActionDelete, Resource{Kind: KindCourse, Course: sampleCourse()})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	assert.NoError(t, Authorize(&Actor{ID: "a", Role: models.RoleAdmin}, ActionDelete, Resource{Kind: KindCourse}))
}
