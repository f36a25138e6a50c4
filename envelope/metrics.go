package envelope

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for envelope runs.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	TimeoutsTotal  *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
}

// NewMetrics registers envelope metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "envelope",
			Name:      "runs_total",
			Help:      "Enveloped operations by class and outcome.",
		}, []string{"class", "outcome"}),
		TimeoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "envelope",
			Name:      "timeouts_total",
			Help:      "Operations that outran their class timeout.",
		}, []string{"class"}),
		FallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "envelope",
			Name:      "fallbacks_total",
			Help:      "Results replaced by the safe fallback after failing materialization.",
		}, []string{"class"}),
	}
}

func (m *Metrics) countRun(class Class, outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(class), outcome).Inc()
}

func (m *Metrics) countTimeout(class Class) {
	if m == nil {
		return
	}
	m.TimeoutsTotal.WithLabelValues(string(class)).Inc()
}

func (m *Metrics) countFallback(class Class) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(string(class)).Inc()
}
