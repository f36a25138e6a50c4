package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// gatedSink blocks every Write until release is closed, signalling each
// write's start on started. Lets tests hold the drain goroutine mid-write.
type gatedSink struct {
	started chan string
	release chan struct{}

	mu     sync.Mutex
	events []Event
}

func newGatedSink() *gatedSink {
	return &gatedSink{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (s *gatedSink) Write(_ context.Context, ev Event) error {
	s.started <- ev.Operation
	<-s.release
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *gatedSink) Close() error { return nil }

func (s *gatedSink) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.events))
	for i, ev := range s.events {
		ops[i] = ev.Operation
	}
	return ops
}

type errorSink struct{}

func (errorSink) Write(context.Context, Event) error { return errors.New("disk full") }
func (errorSink) Close() error                       { return nil }

func TestRecorder(t *testing.T) {
	t.Run("events reach the sink with defaults filled", func(t *testing.T) {
		sink := NewMemorySink()
		r := NewRecorder(sink)

		r.Record(Event{Operation: "chat", QueryHash: "abc123", Cost: 0.01, Status: "success"})
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		events := sink.Events()
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		ev := events[0]
		if ev.ID == "" {
			t.Error("ID not assigned")
		}
		if ev.CreatedAt.IsZero() {
			t.Error("CreatedAt not assigned")
		}
		if ev.Operation != "chat" || ev.QueryHash != "abc123" {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("close flushes the queue", func(t *testing.T) {
		sink := NewMemorySink()
		r := NewRecorder(sink)
		for i := 0; i < 50; i++ {
			r.Record(Event{Operation: "search", Status: "success"})
		}
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if got := sink.Len(); got != 50 {
			t.Errorf("sink has %d events after close, want 50", got)
		}
	})

	t.Run("record after close is dropped", func(t *testing.T) {
		sink := NewMemorySink()
		r := NewRecorder(sink)
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		r.Record(Event{Operation: "chat"})
		if got := sink.Len(); got != 0 {
			t.Errorf("sink has %d events, want 0", got)
		}
		if err := r.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
	})

	t.Run("overflow drops oldest queued event", func(t *testing.T) {
		sink := newGatedSink()
		r := NewRecorder(sink, WithQueueSize(1))

		r.Record(Event{Operation: "first"})
		select {
		case <-sink.started:
			// drain goroutine is now parked inside Write("first")
		case <-time.After(time.Second):
			t.Fatal("drain never started writing")
		}

		r.Record(Event{Operation: "second"}) // fills the queue
		r.Record(Event{Operation: "third"})  // evicts second
		r.Record(Event{Operation: "fourth"}) // evicts third

		close(sink.release)
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		got := sink.operations()
		want := []string{"first", "fourth"}
		if len(got) != len(want) {
			t.Fatalf("operations = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("operations = %v, want %v", got, want)
			}
		}
	})

	t.Run("sink failures do not stop the drain", func(t *testing.T) {
		r := NewRecorder(errorSink{})
		r.Record(Event{Operation: "chat"})
		r.Record(Event{Operation: "search"})
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	if err := sink.Write(ctx, Event{ID: "a", Operation: "chat", Status: "success"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Write(ctx, Event{ID: "a", Operation: "chat", Status: "partial"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := sink.Write(ctx, Event{ID: "b", Operation: "search", Status: "success"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (duplicate ID should overwrite)", len(events))
	}
	if events[0].Status != "partial" {
		t.Errorf("duplicate write did not overwrite: %+v", events[0])
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Write(ctx, Event{ID: "c"}); err == nil {
		t.Error("expected write to closed sink to fail")
	}
}
