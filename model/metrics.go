package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the model manager.
type Metrics struct {
	GenerationsTotal  *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	SelectionsTotal   *prometheus.CounterVec
	LoadsTotal        *prometheus.CounterVec
	DiscoveryFailures prometheus.Counter
}

// NewMetrics registers model metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GenerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "model",
			Name:      "generations_total",
			Help:      "Completed generation calls by model and outcome.",
		}, []string{"model", "outcome"}),
		GenerationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anser",
			Subsystem: "model",
			Name:      "generation_duration_seconds",
			Help:      "Generation wall-clock time by model.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"model"}),
		SelectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "model",
			Name:      "selections_total",
			Help:      "Model selections by winning model and decision source.",
		}, []string{"model", "source"}),
		LoadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "model",
			Name:      "loads_total",
			Help:      "Model warm-up loads by model and outcome.",
		}, []string{"model", "outcome"}),
		DiscoveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "model",
			Name:      "discovery_failures_total",
			Help:      "Catalog discovery attempts that exhausted their retries.",
		}),
	}
}

func (m *Metrics) countGeneration(model, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(model, outcome).Inc()
	m.GenerationLatency.WithLabelValues(model).Observe(seconds)
}

func (m *Metrics) countSelection(model, source string) {
	if m == nil {
		return
	}
	m.SelectionsTotal.WithLabelValues(model, source).Inc()
}

func (m *Metrics) countLoad(model, outcome string) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) countDiscoveryFailure() {
	if m == nil {
		return
	}
	m.DiscoveryFailures.Inc()
}
