// Package emit carries observability events out of graph runs.
//
// The graph engine reports node and run lifecycle through an Emitter so the
// orchestration core stays independent of the backend: slog for development,
// OpenTelemetry spans in production, an in-memory buffer in tests, or nothing
// at all.
package emit

// Emitter receives observability events from graph execution.
//
// Implementations must be safe for concurrent use and must never block or
// panic; a slow or failing backend should drop events rather than slow the
// request path.
type Emitter interface {
	Emit(event Event)
}

// NullEmitter discards every event. It is the default when no emitter is
// configured.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that does nothing.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
