// Package metrics exposes Prometheus counters for auth outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "food_auth"

// Metrics owns its registry so several instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	otpRequests      *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	sessionEvents    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		otpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_requests_total",
			Help:      "OTP challenges requested, by issuing mode and result.",
		}, []string{"mode", "result"}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_verifications_total",
			Help:      "OTP verification attempts by result.",
		}, []string{"result"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Refresh session lifecycle events.",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
	}
	reg.MustRegister(m.otpRequests, m.otpVerifications, m.sessionEvents, m.httpRequests)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) OTPRequested(mode, result string) {
	if m != nil {
		m.otpRequests.WithLabelValues(mode, result).Inc()
	}
}

func (m *Metrics) OTPVerified(result string) {
	if m != nil {
		m.otpVerifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m != nil {
		m.sessionEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) HTTPRequest(route, status string) {
	if m != nil {
		m.httpRequests.WithLabelValues(route, status).Inc()
	}
}
