package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for event recording.
type Metrics struct {
	RecordedTotal    *prometheus.CounterVec
	DroppedTotal     prometheus.Counter
	WriteErrorsTotal prometheus.Counter
}

// NewMetrics registers the analytics instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "analytics",
			Name:      "events_recorded_total",
			Help:      "Events accepted into the analytics queue, by operation.",
		}, []string{"operation"}),
		DroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "analytics",
			Name:      "events_dropped_total",
			Help:      "Events dropped due to queue overflow or a closed recorder.",
		}),
		WriteErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "analytics",
			Name:      "sink_write_errors_total",
			Help:      "Sink writes that returned an error.",
		}),
	}
}

func (m *Metrics) countRecorded(operation string) {
	if m == nil {
		return
	}
	m.RecordedTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) countDropped() {
	if m == nil {
		return
	}
	m.DroppedTotal.Inc()
}

func (m *Metrics) countWriteError() {
	if m == nil {
		return
	}
	m.WriteErrorsTotal.Inc()
}
