package graph

import (
	"log/slog"

	"github.com/anserhq/anser/graph/emit"
)

// Option adjusts engine construction.
type Option func(*engineConfig)

type engineConfig struct {
	maxPathLength int
	emitter       emit.Emitter
	logger        *slog.Logger
	metrics       *Metrics
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		maxPathLength: 15,
		emitter:       &emit.NullEmitter{},
		logger:        slog.Default(),
	}
}

// WithMaxPathLength sets the circuit-breaker cap on visited nodes per run.
// Values below 1 are ignored.
func WithMaxPathLength(n int) Option {
	return func(c *engineConfig) {
		if n >= 1 {
			c.maxPathLength = n
		}
	}
}

// WithEmitter routes per-step execution events to em.
func WithEmitter(em emit.Emitter) Option {
	return func(c *engineConfig) {
		if em != nil {
			c.emitter = em
		}
	}
}

// WithLogger sets the engine's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus instrumentation to the engine.
func WithMetrics(m *Metrics) Option {
	return func(c *engineConfig) {
		c.metrics = m
	}
}
