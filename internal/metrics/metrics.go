// Package metrics provides Prometheus collectors for directory fetches and
// load-state transitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	FetchesTotal         *prometheus.CounterVec   // Directory requests by operation and outcome
	FetchDurationSeconds *prometheus.HistogramVec // Directory request latency by operation

	LoadTransitionsTotal *prometheus.CounterVec // Load-state transitions by controller and status
	StaleResultsTotal    *prometheus.CounterVec // Superseded fetch results discarded by controller

	WebSocketClients prometheus.Gauge // Currently connected push clients
}

// New registers all collectors with reg. Tests pass a fresh
// prometheus.NewRegistry so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_fetches_total",
			Help: "Total number of directory API requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		FetchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "directory_fetch_duration_seconds",
			Help:    "Duration of directory API requests by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		LoadTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_load_transitions_total",
			Help: "Total number of load-state transitions by controller and status",
		}, []string{"controller", "status"}),

		StaleResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_stale_results_total",
			Help: "Total number of superseded fetch results discarded by controller",
		}, []string{"controller"}),

		WebSocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "directory_websocket_clients",
			Help: "Current number of connected websocket clients",
		}),
	}
}

func (m *Metrics) ObserveFetch(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(operation, outcome).Inc()
	m.FetchDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransition(controller, status string) {
	if m == nil {
		return
	}
	m.LoadTransitionsTotal.WithLabelValues(controller, status).Inc()
}

func (m *Metrics) ObserveStale(controller string) {
	if m == nil {
		return
	}
	m.StaleResultsTotal.WithLabelValues(controller).Inc()
}

func (m *Metrics) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(n))
}
