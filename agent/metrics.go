package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the scheduler.
type Metrics struct {
	TasksTotal   *prometheus.CounterVec
	TaskLatency  *prometheus.HistogramVec
	RetriesTotal *prometheus.CounterVec
	WavesTotal   prometheus.Counter
	StallsTotal  prometheus.Counter
}

// NewMetrics registers scheduler metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "agent",
			Name:      "tasks_total",
			Help:      "Finished task attempts by agent kind and outcome.",
		}, []string{"kind", "outcome"}),
		TaskLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anser",
			Subsystem: "agent",
			Name:      "task_duration_seconds",
			Help:      "Task attempt wall-clock time by agent kind.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "agent",
			Name:      "retries_total",
			Help:      "Task retries scheduled by agent kind.",
		}, []string{"kind"}),
		WavesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "agent",
			Name:      "waves_total",
			Help:      "Dispatch waves executed.",
		}),
		StallsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "anser",
			Subsystem: "agent",
			Name:      "stalls_total",
			Help:      "Runs that stopped with unrunnable tasks remaining.",
		}),
	}
}

func (m *Metrics) countTask(kind Kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(string(kind), outcome).Inc()
	m.TaskLatency.WithLabelValues(string(kind)).Observe(seconds)
}

func (m *Metrics) countRetry(kind Kind) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) countWave() {
	if m == nil {
		return
	}
	m.WavesTotal.Inc()
}

func (m *Metrics) countStall() {
	if m == nil {
		return
	}
	m.StallsTotal.Inc()
}
