package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter converts events into OpenTelemetry spans.
//
// Each event becomes a short span named after event.Msg with the request id,
// step, and node id attached as "anser."-prefixed attributes. Meta entries
// are flattened into attributes of the matching type; an "error" entry also
// sets the span status.
//
// The emitter only needs a trace.Tracer, so the application controls the
// provider, sampling, and export pipeline:
//
//	tracer := otel.Tracer("anser")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter over the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as an immediately-ended span.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("anser.request_id", event.RequestID),
		attribute.Int("anser.step", event.Step),
		attribute.String("anser.node_id", event.NodeID),
	)

	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute("anser.meta."+key, value))
	}

	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// metaAttribute maps a metadata value onto the closest OTel attribute type.
// Unrecognized types are stringified so nothing is silently dropped.
func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
