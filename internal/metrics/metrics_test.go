package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.OTPRequested("self", "ok")
	m.OTPRequested("self", "ok")
	m.OTPVerified("invalid")
	m.SessionEvent("session.reuse_detected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.otpRequests.WithLabelValues("self", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpVerifications.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionEvents.WithLabelValues("session.reuse_detected")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OTPRequested("self", "ok")
		m.OTPVerified("ok")
		m.SessionEvent("session.created")
		m.HTTPRequest("/health", "200")
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.SessionEvent("session.created")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `food_auth_session_events_total{event="session.created"} 1`)
}
