package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academix-api/internal/models"
	"github.com/noah-isme/academix-api/pkg/mailer"
)

type sentMail struct {
	to   string
	tmpl mailer.Template
	data interface{}
}

type fakeMailer struct {
	mu       sync.Mutex
	failures int
	sent     []sentMail
	err      error
}

func (f *fakeMailer) Send(ctx context.Context, to, toName string, tmpl mailer.Template, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, sentMail{to: to, tmpl: tmpl, data: data})
	return nil
}

func (f *fakeMailer) Sent() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

// recordingNotifier captures notifications synchronously for service tests.
type recordingNotifier struct {
	mu    sync.Mutex
	items []models.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) All() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.items...)
}

func startNotifications(t *testing.T, m *fakeMailer, metrics *MetricsService) *NotificationService {
	t.Helper()
	svc := NewNotificationService(m, metrics, zap.NewNop(), NotificationConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		AppBaseURL: "https://academix.test/",
	})
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

func TestNotificationServiceDeliversEnrollmentMail(t *testing.T) {
	m := &fakeMailer{}
	metrics := NewMetricsService()
	svc := startNotifications(t, m, metrics)

	svc.Notify(context.Background(), models.Notification{
		Kind:        models.NotificationEnrollment,
		To:          "ana@example.com",
		Name:        "ana",
		CourseID:    "c-1",
		CourseTitle: "Go Basics",
	})

	require.Eventually(t, func() bool { return len(m.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	mail := m.Sent()[0]
	assert.Equal(t, mailer.TemplateEnrollment, mail.tmpl)
	data, ok := mail.data.(mailer.EnrollmentData)
	require.True(t, ok)
	assert.Equal(t, "https://academix.test/courses/c-1", data.CourseURL)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.notifications.WithLabelValues("enrollment", "sent")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationServiceRetriesTransientFailures(t *testing.T) {
	m := &fakeMailer{failures: 1}
	svc := startNotifications(t, m, NewMetricsService())

	svc.Notify(context.Background(), models.Notification{Kind: models.NotificationWelcome, To: "ana@example.com", Name: "ana"})

	require.Eventually(t, func() bool { return len(m.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, mailer.TemplateWelcome, m.Sent()[0].tmpl)
}

func TestNotificationServiceCountsDiscardedMail(t *testing.T) {
	m := &fakeMailer{err: errors.New("smtp down")}
	metrics := NewMetricsService()
	svc := startNotifications(t, m, metrics)

	svc.Notify(context.Background(), models.Notification{Kind: models.NotificationWelcome, To: "ana@example.com"})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.notifications.WithLabelValues("welcome", "failed")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.Sent())
}

func TestNotificationServiceDropsWhenNotRunning(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewNotificationService(&fakeMailer{}, metrics, zap.NewNop(), NotificationConfig{})

	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), models.Notification{Kind: models.NotificationWelcome, To: "ana@example.com"})
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notifications.WithLabelValues("welcome", "dropped")))
}

func TestNotificationComposeRejectsPaymentLinkWithoutURL(t *testing.T) {
	svc := NewNotificationService(&fakeMailer{}, nil, zap.NewNop(), NotificationConfig{})
	_, _, err := svc.compose(models.Notification{Kind: models.NotificationPaymentLink, To: "a@b.c"})
	assert.Error(t, err)
}
