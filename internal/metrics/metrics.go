// Package metrics defines the Prometheus collectors exported on the admin listener.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sessionguard"

// Metrics groups the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	logins      *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	lockdowns   prometheus.Counter
	revocations *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
}

// New registers every collector, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "logins_total",
			Help: "Logins by resulting session status, or failed.",
		}, []string{"outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "anomalous_logins_total",
			Help: "Anomalous logins by anomaly type.",
		}, []string{"type"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "refreshes_total",
			Help: "Refresh-token rotations by result.",
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "concurrent_resolutions_total",
			Help: "Concurrent-session resolutions by decision.",
		}, []string{"decision"}),
		lockdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_lockdowns_total",
			Help: "Sessions blocked pending re-authentication by strike escalation.",
		}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_revocations_total",
			Help: "Session revocations by reason.",
		}, []string{"reason"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "grpc_request_duration_seconds",
			Help:    "gRPC handling time by method and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins, m.anomalies, m.refreshes, m.resolutions, m.lockdowns, m.revocations, m.rpcDuration,
	)
	return m
}

// Login counts a login by outcome ("ACTIVE", "PENDING_CONCURRENT_RESOLUTION", "failed").
func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

// Anomaly counts an anomalous login.
func (m *Metrics) Anomaly(kind string) {
	if m != nil {
		m.anomalies.WithLabelValues(kind).Inc()
	}
}

// Refresh counts a refresh by result ("ok", "rejected").
func (m *Metrics) Refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

// Resolution counts a concurrent-session resolution.
func (m *Metrics) Resolution(decision string) {
	if m != nil {
		m.resolutions.WithLabelValues(decision).Inc()
	}
}

// Lockdown counts a strike-triggered lockdown.
func (m *Metrics) Lockdown() {
	if m != nil {
		m.lockdowns.Inc()
	}
}

// Revoked counts n revocations with reason.
func (m *Metrics) Revoked(reason string, n int) {
	if m != nil && n > 0 {
		m.revocations.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveRPC records one gRPC call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m != nil {
		m.rpcDuration.WithLabelValues(method, code).Observe(d.Seconds())
	}
}
