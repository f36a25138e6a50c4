// Package envelope wraps top-level operations so that callers always get a
// fully materialized value back within a bounded time. An operation runs
// under a class timeout (adaptively widened for heavy queries), panics are
// converted to errors, timeouts produce a structured error carrying partial
// state, and results holding deferred work (channels, functions) are replaced
// with a safe fallback.
package envelope

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

// Class buckets top-level operations by their expected running time.
type Class string

const (
	ClassSimple    Class = "simple"
	ClassStandard  Class = "standard"
	ClassComplex   Class = "complex"
	ClassResearch  Class = "research"
	ClassStreaming Class = "streaming"
)

// Timeout returns the base timeout for the class. Unknown classes get the
// standard timeout.
func (c Class) Timeout() time.Duration {
	switch c {
	case ClassSimple:
		return 15 * time.Second
	case ClassComplex:
		return 60 * time.Second
	case ClassResearch:
		return 120 * time.Second
	case ClassStreaming:
		return 45 * time.Second
	default:
		return 30 * time.Second
	}
}

var heavyWords = map[string]bool{
	"research":      true,
	"analyze":       true,
	"comprehensive": true,
	"detailed":      true,
}

// AdaptiveTimeout widens the class timeout from the query's shape: more than
// 50 words or any heavy keyword triples it, 20 to 50 words doubles it. A
// heuristic only; correctness never depends on the multiplier.
func AdaptiveTimeout(c Class, query string) time.Duration {
	base := c.Timeout()
	words := strings.Fields(query)
	if len(words) > 50 {
		return 3 * base
	}
	for _, w := range words {
		if heavyWords[strings.TrimFunc(strings.ToLower(w), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})] {
			return 3 * base
		}
	}
	if len(words) >= 20 {
		return 2 * base
	}
	return base
}

// TimeoutError reports an operation that outran its envelope.
type TimeoutError struct {
	Class   Class
	Elapsed time.Duration
	Partial interface{} // whatever the operation recorded before expiry
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation exceeded its %s envelope after %.2fs", e.Class, e.Elapsed.Seconds())
}

// Operation produces a value under ctx. Implementations must honor ctx so a
// timed-out operation releases its resources; the envelope returns to the
// caller either way.
type Operation[T any] func(ctx context.Context) (T, error)

// Option adjusts one Run.
type Option func(*config)

type config struct {
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	partial func() interface{}
}

// WithLogger sets the logger for envelope events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithTimeout overrides the computed timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPartial registers a snapshot function consulted on timeout; its value
// rides in TimeoutError.Partial.
func WithPartial(fn func() interface{}) Option {
	return func(c *config) { c.partial = fn }
}

type outcome[T any] struct {
	val T
	err error
}

// Run executes op under the adaptive timeout for class and query. It never
// panics: op panics become errors, a timeout returns fallback plus a
// TimeoutError, and a result that is not fully materialized is substituted
// with fallback.
func Run[T any](ctx context.Context, class Class, query string, fallback T, op Operation[T], opts ...Option) (T, error) {
	cfg := config{
		logger:  slog.Default(),
		timeout: AdaptiveTimeout(class, query),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	opCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				cfg.logger.Error("operation panic recovered", "class", string(class), "panic", r)
				var zero T
				done <- outcome[T]{val: zero, err: fmt.Errorf("internal error: %v", r)}
			}
		}()
		val, err := op(opCtx)
		done <- outcome[T]{val: val, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			cfg.metrics.countRun(class, "error")
			return fallback, res.err
		}
		if !Materialized(res.val) {
			cfg.logger.Warn("operation result not materialized, substituting fallback",
				"class", string(class))
			cfg.metrics.countFallback(class)
			cfg.metrics.countRun(class, "fallback")
			return fallback, nil
		}
		cfg.metrics.countRun(class, "success")
		return res.val, nil

	case <-opCtx.Done():
		if err := ctx.Err(); err != nil {
			// The caller went away; this is not a class timeout.
			cfg.metrics.countRun(class, "canceled")
			return fallback, err
		}
		elapsed := time.Since(start)
		cfg.logger.Warn("operation timed out", "class", string(class), "elapsed", elapsed)
		cfg.metrics.countTimeout(class)
		cfg.metrics.countRun(class, "timeout")
		te := &TimeoutError{Class: class, Elapsed: elapsed}
		if cfg.partial != nil {
			te.Partial = cfg.partial()
		}
		return fallback, te
	}
}
