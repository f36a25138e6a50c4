package emit

// Event is one observability record produced while a request graph runs.
//
// Events cover node lifecycle (node_start, node_complete), run lifecycle
// (run_start, run_complete, run_deadline), and noteworthy decisions
// (circuit_breaker, emergency_fallback). They are consumed by an Emitter,
// which may log them, convert them to spans, or buffer them for inspection.
type Event struct {
	// RequestID identifies the request whose graph run emitted this event.
	RequestID string

	// Step is the 1-indexed position of the node in the execution path.
	// Zero for run-level events.
	Step int

	// NodeID names the node that produced the event. Empty for run-level
	// events.
	NodeID string

	// Msg is the event kind, e.g. "node_complete".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	// "duration_ms", "cost", "confidence", "model", "error".
	Meta map[string]interface{}
}
