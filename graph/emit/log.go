package emit

import (
	"log/slog"
)

// LogEmitter writes events through a structured slog logger.
//
// Events whose Meta contains an "error" entry are logged at Error level,
// everything else at Info. Meta entries become attributes under the "meta"
// group so they never collide with the standard fields.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger falls back to
// slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event with its identity fields and metadata attached.
func (l *LogEmitter) Emit(event Event) {
	attrs := make([]any, 0, 8+2*len(event.Meta))
	attrs = append(attrs,
		slog.String("request_id", event.RequestID),
		slog.Int("step", event.Step),
		slog.String("node", event.NodeID),
	)

	metaAttrs := make([]any, 0, 2*len(event.Meta))
	for k, v := range event.Meta {
		metaAttrs = append(metaAttrs, slog.Any(k, v))
	}
	if len(metaAttrs) > 0 {
		attrs = append(attrs, slog.Group("meta", metaAttrs...))
	}

	if _, failed := event.Meta["error"]; failed {
		l.logger.Error(event.Msg, attrs...)
		return
	}
	l.logger.Info(event.Msg, attrs...)
}
