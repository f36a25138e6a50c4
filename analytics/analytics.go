// Package analytics records request-level usage events off the hot path.
// Events flow through a bounded queue into a Sink; recording never blocks,
// and when the queue is full the oldest event is dropped to make room.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one request-level usage record.
type Event struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"` // chat, search, research
	SessionID  string    `json:"session_id,omitempty"`
	QueryHash  string    `json:"query_hash"`
	Quality    string    `json:"quality,omitempty"`
	Cost       float64   `json:"cost"`
	Seconds    float64   `json:"seconds"`
	Models     []string  `json:"models,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Status     string    `json:"status"` // success, partial, error
	ErrorCode  string    `json:"error_code,omitempty"`
	Cached     bool      `json:"cached"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sink persists events. Write may be retried with the same event ID, so
// implementations should treat inserts as idempotent on ID.
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}

var errClosed = errors.New("analytics: sink is closed")

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Recorder is the fire-and-forget front of a Sink. A single drain goroutine
// owns all sink writes; Record only enqueues.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	metrics *Metrics

	queue chan Event
	quit  chan struct{}
	done  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// RecorderOption adjusts recorder construction.
type RecorderOption func(*Recorder)

// WithQueueSize sets the bounded queue capacity.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Event, n)
		}
	}
}

// WithRecorderLogger sets the recorder's structured logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorderMetrics attaches Prometheus instruments.
func WithRecorderMetrics(m *Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder starts a recorder draining into sink. Call Close to flush and
// release the sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:   sink,
		logger: slog.Default(),
		queue:  make(chan Event, defaultQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.drain()
	return r
}

// Record enqueues ev, assigning an ID and timestamp when missing. It never
// blocks: on a full queue the oldest event is dropped first, and if another
// producer wins the freed slot ev itself is dropped.
func (r *Recorder) Record(ev Event) {
	if r.closed.Load() {
		r.metrics.countDropped()
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	select {
	case r.queue <- ev:
		r.metrics.countRecorded(ev.Operation)
		return
	default:
	}

	select {
	case <-r.queue:
		r.metrics.countDropped()
	default:
	}
	select {
	case r.queue <- ev:
		r.metrics.countRecorded(ev.Operation)
	default:
		r.metrics.countDropped()
	}
}

// Close stops intake, flushes queued events, and closes the sink. Safe to
// call more than once.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.quit)
	})
	<-r.done
	return r.sink.Close()
}

func (r *Recorder) drain() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.queue:
			r.write(ev)
		case <-r.quit:
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.sink.Write(ctx, ev); err != nil {
		r.metrics.countWriteError()
		r.logger.Warn("analytics write failed", "event_id", ev.ID, "operation", ev.Operation, "error", err)
	}
}
