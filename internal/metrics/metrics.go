package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for followup
type Metrics struct {
	// Outgoing API calls
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// View model
	RefreshTotal          *prometheus.CounterVec
	RefreshDiscardedTotal *prometheus.CounterVec
	PollTotal             *prometheus.CounterVec
	AssignmentsTotal      *prometheus.CounterVec
	BusyRows              prometheus.Gauge

	// Mock backend
	MockRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followup_api_requests_total",
				Help: "Total number of backend API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "followup_api_request_duration_seconds",
				Help:    "Backend API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followup_api_errors_total",
				Help: "Total number of failed backend API requests by error type",
			},
			[]string{"error_type"},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followup_refresh_total",
				Help: "Total number of store refreshes by outcome",
			},
			[]string{"store", "result"},
		),
		RefreshDiscardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followup_refresh_discarded_total",
				Help: "Refresh responses dropped because a newer refresh already applied",
			},
			[]string{"store"},
		),
		PollTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followup_poll_total",
				Help: "Activity poll attempts by outcome",
			},
			[]string{"result"},
		),
		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followup_assignments_total",
				Help: "Sequence assignment attempts by outcome",
			},
			[]string{"result"},
		),
		BusyRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "followup_busy_rows",
				Help: "Lead rows with a row action in flight",
			},
		),
		MockRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "followup_mock_requests_total",
				Help: "Requests served by the mock backend",
			},
			[]string{"method", "route", "status"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RefreshTotal,
		m.RefreshDiscardedTotal,
		m.PollTotal,
		m.AssignmentsTotal,
		m.BusyRows,
		m.MockRequestsTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncRefresh records a store refresh outcome ("ok", "error" or "discarded")
func IncRefresh(store, result string) {
	m := Global()
	if m != nil {
		m.RefreshTotal.WithLabelValues(store, result).Inc()
	}
}

// IncRefreshDiscarded records a stale refresh response
func IncRefreshDiscarded(store string) {
	m := Global()
	if m != nil {
		m.RefreshDiscardedTotal.WithLabelValues(store).Inc()
	}
}

// IncPoll records an activity poll outcome
func IncPoll(result string) {
	m := Global()
	if m != nil {
		m.PollTotal.WithLabelValues(result).Inc()
	}
}

// IncAssignments records an assignment outcome
func IncAssignments(result string) {
	m := Global()
	if m != nil {
		m.AssignmentsTotal.WithLabelValues(result).Inc()
	}
}

// SetBusyRows sets the number of busy lead rows
func SetBusyRows(n int) {
	m := Global()
	if m != nil {
		m.BusyRows.Set(float64(n))
	}
}

// IncAPIErrors increments the API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
