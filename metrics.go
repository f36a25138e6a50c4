package anser

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the inbound operations.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestCost     *prometheus.HistogramVec
}

// NewMetrics registers operation metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "ops",
			Name:      "requests_total",
			Help:      "Completed operations by operation and status.",
		}, []string{"operation", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anser",
			Subsystem: "ops",
			Name:      "request_duration_seconds",
			Help:      "Wall-clock time per operation.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation"}),
		RequestCost: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anser",
			Subsystem: "ops",
			Name:      "request_cost",
			Help:      "Cost charged per operation, in configured currency units.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) observeRequest(operation string, status Status, seconds, cost float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, string(status)).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(seconds)
	m.RequestCost.WithLabelValues(operation).Observe(cost)
}
