// Package tracelink carries causal trace identifiers across a transport that
// does not propagate trace context by itself. The producer captures its active
// span into message metadata; the consumer opens a new span linked to it.
package tracelink

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used for consumer spans.
const InstrumentationName = "github.com/illmade-knight/go-batchrelay/tracelink"

// Metadata is the trace and identity information attached to every envelope.
type Metadata struct {
	TraceID     string    `json:"traceId"`
	SpanID      string    `json:"spanId"`
	MessageID   string    `json:"messageId"`
	PublishDate time.Time `json:"publishDate"`
}

// CreateMetadata captures the span active in ctx (not a new child of it), a
// fresh message identifier and the publish time. When ctx carries no valid
// span the trace fields are left empty and consumers treat the message as
// trace-less.
func CreateMetadata(ctx context.Context) Metadata {
	md := Metadata{
		MessageID:   uuid.NewString(),
		PublishDate: time.Now().UTC().Round(0),
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		md.TraceID = sc.TraceID().String()
		md.SpanID = sc.SpanID().String()
	}
	return md
}

// SpanContextFromMetadata rebuilds the remote span context described by the
// hex identifiers. ok is false when either identifier is missing or malformed.
func SpanContextFromMetadata(traceID, spanID string) (sc trace.SpanContext, ok bool) {
	if traceID == "" || spanID == "" {
		return trace.SpanContext{}, false
	}
	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	sid, err := trace.SpanIDFromHex(spanID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	sc = trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid,
		SpanID:  sid,
		Remote:  true,
	})
	return sc, sc.IsValid()
}

// Linker opens consumer spans that are linked to, rather than parented by,
// the producer span recorded in message metadata.
type Linker struct {
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewLinker creates a Linker using an explicitly supplied TracerProvider.
func NewLinker(tp trace.TracerProvider, logger zerolog.Logger) *Linker {
	return &Linker{
		tracer: tp.Tracer(InstrumentationName),
		logger: logger.With().Str("component", "Linker").Logger(),
	}
}

// OpenLinkedSpan starts a consumer span for one message. If md holds a valid
// trace/span pair the span is a new root carrying a link to it; otherwise the
// span has no link and a single warning is logged. It never fails.
//
// The caller must End the returned span.
func (l *Linker) OpenLinkedSpan(ctx context.Context, md *Metadata, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithNewRoot(),
		trace.WithAttributes(attrs...),
	}

	var messageID string
	if md != nil {
		messageID = md.MessageID
		if sc, ok := SpanContextFromMetadata(md.TraceID, md.SpanID); ok {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}))
			return l.tracer.Start(ctx, name, opts...)
		}
	}

	l.logger.Warn().Str("msg_id", messageID).Msg("Message carries no usable trace context, opening unlinked span.")
	return l.tracer.Start(ctx, name, opts...)
}
