package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/internal/repository"
	"github.com/noah-isme/academix-api/pkg/export"
)

type enrollmentFixture struct {
	repo     *memEnrollments
	users    *memUsers
	notifier *recordingNotifier
	metrics  *MetricsService
	svc      *EnrollmentService
}

func newEnrollmentFixture() *enrollmentFixture {
	f := &enrollmentFixture{
		repo: newMemEnrollments(),
		users: newMemUsers(
			&models.User{ID: "s1", Name: "sam", Email: "sam@example.com", Role: models.RoleStudent},
			&models.User{ID: "s2", Name: "sue", Email: "sue@example.com", Role: models.RoleStudent},
			&models.User{ID: "i1", Name: "ivo", Email: "ivo@example.com", Role: models.RoleInstructor},
		),
		notifier: &recordingNotifier{},
		metrics:  NewMetricsService(),
	}
	courses := newMemCourses(ownedCourse("c1", "a1", "i1"))
	f.svc = NewEnrollmentService(f.repo, courses, f.users, f.notifier, export.NewExporter(), f.metrics, nil, zap.NewNop())
	return f
}

func TestEnrollmentServiceEnrollSelf(t *testing.T) {
	f := newEnrollmentFixture()

	enrollment, err := f.svc.Enroll(context.Background(), student, EnrollRequest{CourseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", enrollment.StudentID)
	assert.Equal(t, 0.0, enrollment.Progress)
	assert.Equal(t, models.EnrollmentSourceDirect, enrollment.Source)

	require.Len(t, f.notifier.All(), 1)
	n := f.notifier.All()[0]
	assert.Equal(t, models.NotificationEnrollment, n.Kind)
	assert.Equal(t, "sam@example.com", n.To)
	assert.Equal(t, "Course c1", n.CourseTitle)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.enrollments.WithLabelValues("DIRECT")))
}

func TestEnrollmentServiceRejectsDuplicates(t *testing.T) {
	f := newEnrollmentFixture()

	_, err := f.svc.Enroll(context.Background(), student, EnrollRequest{CourseID: "c1"})
	require.NoError(t, err)
	_, err = f.svc.Enroll(context.Background(), student, EnrollRequest{CourseID: "c1"})
	requireAppError(t, err, http.StatusConflict)
	assert.Equal(t, 1, f.repo.Count())
}

func TestEnrollmentServiceConcurrentDuplicatesYieldOneRecord(t *testing.T) {
	f := newEnrollmentFixture()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Enroll(context.Background(), student, EnrollRequest{CourseID: "c1"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireAppError(t, err, http.StatusConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.repo.Count())
}

func TestEnrollmentServiceRaceOnInsertMapsToConflict(t *testing.T) {
	f := newEnrollmentFixture()
	f.repo.createErr = &repository.DuplicateError{Op: "create enrollment", Constraint: "enrollments_student_id_course_id_key"}

	_, err := f.svc.Enroll(context.Background(), student, EnrollRequest{CourseID: "c1"})
	requireAppError(t, err, http.StatusConflict)
	assert.Empty(t, f.notifier.All())
}

func TestEnrollmentServiceGateRules(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, student, EnrollRequest{CourseID: "missing"})
	requireAppError(t, err, http.StatusNotFound)

	_, err = f.svc.Enroll(ctx, student, EnrollRequest{CourseID: "c1", StudentID: "s2"})
	requireAppError(t, err, http.StatusForbidden)

	_, err = f.svc.Enroll(ctx, admin, EnrollRequest{CourseID: "c1", StudentID: "i1"})
	requireAppError(t, err, http.StatusBadRequest)

	_, err = f.svc.Enroll(ctx, admin, EnrollRequest{CourseID: "c1", StudentID: "ghost"})
	requireAppError(t, err, http.StatusNotFound)

	enrollment, err := f.svc.Enroll(ctx, admin, EnrollRequest{CourseID: "c1", StudentID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, "s2", enrollment.StudentID)

	f.users.findErr = errors.New("db down")
	_, err = f.svc.Enroll(ctx, student, EnrollRequest{CourseID: "c1"})
	requireAppError(t, err, http.StatusInternalServerError)
}

func TestEnrollmentServiceEnrollFromPaymentIsIdempotent(t *testing.T) {
	f := newEnrollmentFixture()

	first, created, err := f.svc.EnrollFromPayment(context.Background(), "c1", "s1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.EnrollmentSourcePayment, first.Source)

	again, created, err := f.svc.EnrollFromPayment(context.Background(), "c1", "s1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.repo.Count())
}

func TestEnrollmentServiceVisibility(t *testing.T) {
	f := newEnrollmentFixture()
	ctx := context.Background()
	enrollment, err := f.svc.Enroll(ctx, student, EnrollRequest{CourseID: "c1"})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, student, enrollment.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, outsider, enrollment.ID)
	requireAppError(t, err, http.StatusForbidden)
	_, err = f.svc.Get(ctx, admin, enrollment.ID)
	require.NoError(t, err)

	list, err := f.svc.ListByStudent(ctx, student, "s1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = f.svc.ListByStudent(ctx, outsider, "s1")
	requireAppError(t, err, http.StatusForbidden)

	roster, err := f.svc.Roster(ctx, instructor, "c1")
	require.NoError(t, err)
	assert.Len(t, roster, 1)
	_, err = f.svc.Roster(ctx, student, "c1")
	requireAppError(t, err, http.StatusForbidden)

	err = f.svc.Delete(ctx, student, enrollment.ID)
	requireAppError(t, err, http.StatusForbidden)
	require.NoError(t, f.svc.Delete(ctx, admin, enrollment.ID))
	err = f.svc.Delete(ctx, admin, enrollment.ID)
	requireAppError(t, err, http.StatusNotFound)
}

func TestEnrollmentServiceExportRoster(t *testing.T) {
	f := newEnrollmentFixture()
	_, err := f.svc.Enroll(context.Background(), student, EnrollRequest{CourseID: "c1"})
	require.NoError(t, err)

	file, err := f.svc.ExportRoster(context.Background(), instructor, "c1", export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "roster-c1.csv", file.Name)
	assert.True(t, bytes.Contains(file.Content, []byte("s1@example.com")))
	assert.True(t, bytes.Contains(file.Content, []byte("0.0%")))

	file, err = f.svc.ExportRoster(context.Background(), admin, "c1", export.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, bytes.HasPrefix(file.Content, []byte("%PDF")))
}
