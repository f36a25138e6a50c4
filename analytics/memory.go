package analytics

import (
	"context"
	"sync"
)

// MemorySink keeps events in memory. For tests and local development.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Write appends ev. Duplicate IDs overwrite the earlier event.
func (s *MemorySink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	for i := range s.events {
		if s.events[i].ID == ev.ID {
			s.events[i] = ev
			return nil
		}
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a snapshot of everything written so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len reports how many events the sink holds.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Close marks the sink closed. Double-close is a no-op.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
