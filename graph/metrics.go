package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for graph execution. A single
// Metrics value may be shared by several engines; series are partitioned by
// graph name.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	NodeLatency         *prometheus.HistogramVec
	CircuitBreakerTrips *prometheus.CounterVec
	DeadlineExpirations *prometheus.CounterVec
	ActiveRuns          *prometheus.GaugeVec
}

// NewMetrics registers graph metrics with reg and returns the instrument set.
// Passing prometheus.DefaultRegisterer wires them into the default exposition.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "graph",
			Name:      "runs_total",
			Help:      "Graph runs by terminal status.",
		}, []string{"graph", "status"}),
		NodeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anser",
			Subsystem: "graph",
			Name:      "node_duration_seconds",
			Help:      "Wall-clock node execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"graph", "node"}),
		CircuitBreakerTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "graph",
			Name:      "circuit_breaker_trips_total",
			Help:      "Runs terminated by the path-length circuit breaker.",
		}, []string{"graph"}),
		DeadlineExpirations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "graph",
			Name:      "deadline_expirations_total",
			Help:      "Runs terminated by deadline expiry.",
		}, []string{"graph"}),
		ActiveRuns: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "anser",
			Subsystem: "graph",
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}, []string{"graph"}),
	}
}

func (m *Metrics) observeNode(graph, node string, seconds float64) {
	if m == nil {
		return
	}
	m.NodeLatency.WithLabelValues(graph, node).Observe(seconds)
}

func (m *Metrics) countRun(graph, status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(graph, status).Inc()
}

func (m *Metrics) countBreakerTrip(graph string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTrips.WithLabelValues(graph).Inc()
}

func (m *Metrics) countDeadline(graph string) {
	if m == nil {
		return
	}
	m.DeadlineExpirations.WithLabelValues(graph).Inc()
}

func (m *Metrics) runStarted(graph string) {
	if m == nil {
		return
	}
	m.ActiveRuns.WithLabelValues(graph).Inc()
}

func (m *Metrics) runFinished(graph string) {
	if m == nil {
		return
	}
	m.ActiveRuns.WithLabelValues(graph).Dec()
}
