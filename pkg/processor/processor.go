// Package processor turns one raw message into exactly one ProcessingOutcome.
// It decodes the envelope, opens a span linked to the producer, runs the
// domain handler and classifies whatever went wrong.
package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/illmade-knight/go-batchrelay/pkg/envelope"
	"github.com/illmade-knight/go-batchrelay/pkg/tracelink"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanName is the name of the span opened for every message.
const SpanName = "consume message"

// Span attribute keys.
const (
	AttrMessageID      = attribute.Key("messaging.message.id")
	AttrPartition      = attribute.Key("stream.partition")
	AttrSequenceNumber = attribute.Key("stream.sequencenumber")
	AttrOutcome        = attribute.Key("outcome")
	AttrErrorKind      = attribute.Key("error.kind")
)

// Handler holds the business logic for one decoded message.
// It must be safe to run more than once for the same message.
type Handler[T any] interface {
	Handle(ctx context.Context, env *envelope.Envelope[T], msg types.RawMessage) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc[T any] func(ctx context.Context, env *envelope.Envelope[T], msg types.RawMessage) (any, error)

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, env *envelope.Envelope[T], msg types.RawMessage) (any, error) {
	return f(ctx, env, msg)
}

// Option configures a Processor.
type Option func(*options)

type options struct {
	timeout    time.Duration
	classifier Classifier
}

// WithTimeout bounds the handler run for each message. Zero means no bound
// beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// Processor is stateless between messages and safe for concurrent use.
type Processor[T any] struct {
	handler    Handler[T]
	linker     *tracelink.Linker
	timeout    time.Duration
	classifier Classifier
	logger     zerolog.Logger
}

// New creates a Processor for payloads of type T.
func New[T any](handler Handler[T], linker *tracelink.Linker, logger zerolog.Logger, opts ...Option) (*Processor[T], error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if linker == nil {
		return nil, errors.New("linker cannot be nil")
	}
	o := options{classifier: DefaultClassifier}
	for _, opt := range opts {
		opt(&o)
	}
	return &Processor[T]{
		handler:    handler,
		linker:     linker,
		timeout:    o.timeout,
		classifier: o.classifier,
		logger:     logger.With().Str("component", "Processor").Logger(),
	}, nil
}

// Process handles msg and reports its outcome. It never returns an error:
// every failure mode is folded into the outcome.
func (p *Processor[T]) Process(ctx context.Context, msg types.RawMessage) types.ProcessingOutcome {
	env, decodeErr := envelope.Decode[T](msg.Body)

	var md *tracelink.Metadata
	if decodeErr == nil {
		md = &env.Metadata
	}
	ctx, span := p.linker.OpenLinkedSpan(ctx, md, SpanName,
		AttrMessageID.String(msg.ID),
		AttrPartition.String(msg.PartitionKey),
		AttrSequenceNumber.String(msg.SequenceNumber),
	)
	defer span.End()

	var outcome types.ProcessingOutcome
	if decodeErr != nil {
		outcome = types.Failed(types.KindMalformedEnvelope, decodeErr.Error())
		span.RecordError(decodeErr)
	} else {
		output, err := p.run(ctx, env, msg)
		outcome = p.classify(output, err)
		if err != nil {
			span.RecordError(err)
		}
	}

	p.finishSpan(span, outcome)
	p.logOutcome(msg, outcome)
	return outcome
}

// run calls the handler under the per-message timeout, turning a panic into an error.
func (p *Processor[T]) run(ctx context.Context, env *envelope.Envelope[T], msg types.RawMessage) (output any, err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Str("msg_id", msg.ID).Bytes("stack", debug.Stack()).Msg("Handler panicked.")
			output, err = nil, &panicError{value: r}
		}
	}()
	return p.handler.Handle(ctx, env, msg)
}

func (p *Processor[T]) classify(output any, err error) types.ProcessingOutcome {
	if err == nil {
		return types.Succeeded(output)
	}
	var pe *panicError
	if errors.As(err, &pe) {
		return types.Failed(types.KindProcessingFailure, err.Error())
	}
	if p.classifier(err) {
		return types.CatastrophicallyFailed(types.KindDependencyUnavailable, err.Error())
	}
	return types.Failed(types.KindProcessingFailure, err.Error())
}

func (p *Processor[T]) finishSpan(span trace.Span, outcome types.ProcessingOutcome) {
	span.SetAttributes(AttrOutcome.String(outcome.Status.String()))
	if outcome.IsSuccess() {
		span.SetStatus(otelcodes.Ok, "")
		return
	}
	span.SetAttributes(AttrErrorKind.String(string(outcome.Kind)))
	span.SetStatus(otelcodes.Error, outcome.Message)
}

func (p *Processor[T]) logOutcome(msg types.RawMessage, outcome types.ProcessingOutcome) {
	switch outcome.Status {
	case types.OutcomeSuccess:
		p.logger.Info().Str("msg_id", msg.ID).Str("outcome", outcome.Status.String()).Msg("Message processed.")
	case types.OutcomeCatastrophic:
		p.logger.Error().Str("msg_id", msg.ID).Str("outcome", outcome.Status.String()).
			Str("error_kind", string(outcome.Kind)).Msg("Message hit a batch-aborting failure.")
	default:
		p.logger.Warn().Str("msg_id", msg.ID).Str("outcome", outcome.Status.String()).
			Str("error_kind", string(outcome.Kind)).Msg("Message failed.")
	}
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
