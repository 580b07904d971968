package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordEnrollment("DIRECT")
	m.RecordEnrollment("PAYMENT")
	m.RecordEnrollment("PAYMENT")
	m.RecordNotification("enrollment", "failed")
	m.RecordWebhookEvent("checkout.session.completed", "enrolled")
	m.RecordCascade("course", "lessons", 3)
	m.RecordCascade("course", "reviews", 0)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.enrollments.WithLabelValues("PAYMENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("enrollment", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cascadeDeletes.WithLabelValues("course", "lessons")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.cacheHitRatio))
}

func TestMetricsServiceHandlerServesRegistry(t *testing.T) {
	m := NewMetricsService()
	m.RegisterGauge("notification_queue_depth", "Pending notification jobs", func() float64 { return 4 })
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/courses", http.StatusOK, 10*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "academix_http_requests_total")
	assert.Contains(t, w.Body.String(), "academix_notification_queue_depth 4")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordEnrollment("DIRECT")
		m.RecordNotification("welcome", "sent")
		m.ObserveHTTPRequest(http.MethodGet, "/", 200, time.Millisecond)
	})
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
