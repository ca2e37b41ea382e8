// Package metrics provides Prometheus metrics for the relay service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	LockOpsTotal    *prometheus.CounterVec
	ConflictsTotal  prometheus.Counter
	GraphBuilds     *prometheus.CounterVec
	GraphBuildSecs  prometheus.Histogram
	QuotaHitsTotal  prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_requests_total",
				Help: "Total requests by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_request_duration_seconds",
				Help:    "Request processing duration by endpoint.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		LockOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_lock_ops_total",
				Help: "Lock registry operations by op and result.",
			},
			[]string{"op", "result"},
		),
		ConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_lock_conflicts_total",
				Help: "Acquire attempts refused because another user holds a lock.",
			},
		),
		GraphBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_graph_builds_total",
				Help: "Dependency graph builds by kind (full, incremental, cached).",
			},
			[]string{"kind"},
		),
		GraphBuildSecs: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_graph_build_duration_seconds",
				Help:    "Dependency graph build duration.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		QuotaHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_remote_quota_hits_total",
				Help: "Remote host calls refused for quota exhaustion.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.LockOpsTotal,
		m.ConflictsTotal,
		m.GraphBuilds,
		m.GraphBuildSecs,
		m.QuotaHitsTotal,
		m.ErrorsTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(endpoint, outcome string) {
	m.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveDuration records request duration.
func (m *Metrics) ObserveDuration(endpoint string, seconds float64) {
	m.RequestDuration.WithLabelValues(endpoint).Observe(seconds)
}

// RecordLockOp increments the lock operation counter.
func (m *Metrics) RecordLockOp(op, result string) {
	m.LockOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
