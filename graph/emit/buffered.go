package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by request id.
//
// It exists for tests and interactive debugging; it grows without bound, so
// production deployments should prefer LogEmitter or OTelEmitter.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to the buffer for its request id.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RequestID] = append(b.events[event.RequestID], event)
}

// Events returns a copy of the events recorded for one request, in emission
// order.
func (b *BufferedEmitter) Events(requestID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stored := b.events[requestID]
	out := make([]Event, len(stored))
	copy(out, stored)
	return out
}

// Len reports the total number of buffered events across all requests.
func (b *BufferedEmitter) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, evs := range b.events {
		n += len(evs)
	}
	return n
}

// Clear drops all buffered events.
func (b *BufferedEmitter) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
