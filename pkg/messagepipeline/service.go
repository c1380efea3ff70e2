// Package messagepipeline runs batches through a per-message processor,
// settles each message with its transport and reports the batch result to
// the orchestration waiting on it.
package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-batchrelay/pkg/batchsource"
	"github.com/illmade-knight/go-batchrelay/pkg/callback"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// BatchSpanName is the span wrapping one processing cycle.
const BatchSpanName = "process batch"

// settleTimeout bounds acknowledge, abandon and signal calls, which still run
// after the service has been asked to stop.
const settleTimeout = 30 * time.Second

var errBatchHalted = errors.New("batch halted by catastrophic failure")

// MessageProcessor turns one message into exactly one outcome.
type MessageProcessor interface {
	Process(ctx context.Context, msg types.RawMessage) types.ProcessingOutcome
}

// Signaler reports batch results to the orchestration.
type Signaler interface {
	SignalSuccess(ctx context.Context, token types.CallbackToken, output callback.Result) error
	SignalFailure(ctx context.Context, token types.CallbackToken, kind types.ErrorKind, cause callback.Result) error
}

// SignalKind records which signal a cycle sent.
type SignalKind string

const (
	SignalNone    SignalKind = "none"
	SignalSuccess SignalKind = "success"
	SignalFailure SignalKind = "failure"
)

// CycleReport describes what one processing cycle did.
type CycleReport struct {
	BatchSize int
	Result    *AggregateResult
	// SourceErr is set when the batch could not be obtained.
	SourceErr error
	Signal    SignalKind
	// SignalErrorKind is the kind sent with a failure signal.
	SignalErrorKind types.ErrorKind
	SignalErr       error
	AcknowledgeErr  error
	AbandonErr      error
}

// Empty reports a cycle that found no messages and sent no signal.
func (r *CycleReport) Empty() bool {
	return r.BatchSize == 0 && r.SourceErr == nil && r.Signal == SignalNone
}

// Option configures a BatchProcessingService.
type Option func(*BatchProcessingService)

// WithTracerProvider sets the provider for batch spans. The default records nothing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *BatchProcessingService) {
		if tp != nil {
			s.tracer = tp.Tracer("github.com/illmade-knight/go-batchrelay/messagepipeline")
		}
	}
}

// BatchProcessingService processes one batch per cycle. Messages of a batch
// run in parallel up to NumWorkers; batches never overlap.
type BatchProcessingService struct {
	cfg       Config
	source    batchsource.Source
	processor MessageProcessor
	signaler  Signaler
	tracer    trace.Tracer
	logger    zerolog.Logger

	cycleMu      sync.Mutex
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewBatchProcessingService creates the service. signaler may be nil when no
// orchestration is waiting on the batches.
func NewBatchProcessingService(
	cfg Config,
	source batchsource.Source,
	processor MessageProcessor,
	signaler Signaler,
	logger zerolog.Logger,
	opts ...Option,
) (*BatchProcessingService, error) {
	if source == nil {
		return nil, errors.New("batch source cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("message processor cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// A token is consumed by one signal, so it cannot serve a stream of batches.
	if cfg.CallbackToken != "" && source.Kind() == batchsource.KindPoll {
		return nil, errors.New("a configured callback token cannot be used with a poll source")
	}

	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())
	s := &BatchProcessingService{
		cfg:          cfg,
		source:       source,
		processor:    processor,
		signaler:     signaler,
		tracer:       noop.NewTracerProvider().Tracer(""),
		logger:       logger.With().Str("service", "BatchProcessingService").Logger(),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs cycles in the background until Stop is called or a one-shot
// source is exhausted. ctx cancellation has the same effect as Stop.
func (s *BatchProcessingService) Start(ctx context.Context) error {
	s.logger.Info().Str("source_kind", string(s.source.Kind())).Int("worker_count", s.cfg.NumWorkers).
		Msg("Starting BatchProcessingService...")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			s.shutdownFunc()
		case <-s.shutdownCtx.Done():
		}
	}()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().Msg("BatchProcessingService started successfully.")
	return nil
}

func (s *BatchProcessingService) loop() {
	defer s.wg.Done()
	for {
		if s.shutdownCtx.Err() != nil {
			s.logger.Info().Msg("Processing loop shutting down.")
			return
		}

		report, err := s.RunCycle(s.shutdownCtx)
		switch {
		case errors.Is(err, batchsource.ErrExhausted):
			s.logger.Info().Msg("Batch source exhausted, processing loop exiting.")
			return
		case err != nil && s.shutdownCtx.Err() == nil:
			s.logger.Error().Err(err).Msg("Processing cycle failed.")
		}

		if err == nil && report != nil && !report.Empty() {
			continue
		}
		select {
		case <-s.shutdownCtx.Done():
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// Stop asks the loop to finish and waits for it. With DrainOnShutdown the
// batch in flight is completed first.
func (s *BatchProcessingService) Stop() {
	s.logger.Info().Msg("Stopping BatchProcessingService...")
	s.shutdownFunc()
	s.wg.Wait()
	s.logger.Info().Msg("BatchProcessingService stopped gracefully.")
}

// Run processes exactly one batch. It is the entry point for sources whose
// host hands over a single batch per invocation.
func (s *BatchProcessingService) Run(ctx context.Context) (*CycleReport, error) {
	return s.RunCycle(ctx)
}

// RunCycle obtains one batch, processes it to completion, settles every
// message and sends at most one signal. The returned error is non-nil when
// the batch could not be obtained or the orchestration was unreachable.
func (s *BatchProcessingService) RunCycle(ctx context.Context) (*CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	batch, err := s.source.Next(ctx)
	if err != nil {
		if errors.Is(err, batchsource.ErrExhausted) || ctx.Err() != nil {
			return nil, err
		}
		return s.failBeforeProcessing(ctx, err)
	}

	report := &CycleReport{BatchSize: batch.Len(), Signal: SignalNone}
	if batch.Len() == 0 && s.source.Kind() == batchsource.KindPoll {
		return report, nil
	}

	snapshot := batch.Snapshot()
	ctx, span := s.tracer.Start(ctx, BatchSpanName, trace.WithAttributes(attribute.Int("messages.count", snapshot.Len())))
	defer span.End()

	s.logger.Info().Int("batch_size", snapshot.Len()).Msg("Processing batch.")

	outcomes := s.processAll(ctx, snapshot)
	res := Aggregate(snapshot, outcomes)
	report.Result = res

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	s.settle(settleCtx, res, report)

	s.logger.Info().Int("batch_size", snapshot.Len()).Int("succeeded", len(res.Succeeded)).
		Int("failed", len(res.Failed)).Bool("catastrophic", res.Catastrophic).Msg("Batch processed.")
	span.SetAttributes(
		attribute.Int("messages.succeeded", len(res.Succeeded)),
		attribute.Int("messages.failed", len(res.Failed)),
	)
	if res.HasFailures() {
		span.SetStatus(otelcodes.Error, fmt.Sprintf("%d of %d messages failed", len(res.Failed), snapshot.Len()))
	}

	token := s.tokenFor(snapshot)
	kind, result := s.decide(res, snapshot.Len())
	if err := s.signal(settleCtx, token, kind, result, report); err != nil {
		span.RecordError(err)
		return report, err
	}
	return report, nil
}

// processAll runs every message through the processor. Each worker writes
// only its own slot; slots of messages never started stay nil.
func (s *BatchProcessingService) processAll(ctx context.Context, batch *types.Batch) []*types.ProcessingOutcome {
	procCtx := ctx
	if s.cfg.DrainOnShutdown {
		procCtx = context.WithoutCancel(ctx)
	}

	outcomes := make([]*types.ProcessingOutcome, batch.Len())
	g, gctx := errgroup.WithContext(procCtx)
	g.SetLimit(s.cfg.NumWorkers)

	for i := range batch.Messages {
		if gctx.Err() != nil {
			break
		}
		msg := batch.Messages[i]
		slot := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome := s.processor.Process(gctx, msg)
			outcomes[slot] = &outcome
			if outcome.IsCatastrophic() {
				return fmt.Errorf("%w: message %s: %s", errBatchHalted, msg.ID, outcome.Message)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("Batch halted, remaining messages left unprocessed.")
	}
	if procCtx.Err() != nil && !errors.Is(context.Cause(gctx), errBatchHalted) {
		s.logger.Warn().Msg("Shutdown interrupted batch, unstarted messages will be abandoned.")
	}
	return outcomes
}

func (s *BatchProcessingService) settle(ctx context.Context, res *AggregateResult, report *CycleReport) {
	if receipts := res.ReceiptsToAcknowledge(); len(receipts) > 0 {
		if err := s.source.Acknowledge(ctx, receipts); err != nil {
			report.AcknowledgeErr = err
			s.logger.Error().Err(err).Int("count", len(receipts)).Msg("Failed to acknowledge succeeded messages, they may be redelivered.")
		}
	}
	if receipts := res.ReceiptsToAbandon(); len(receipts) > 0 {
		if err := s.source.Abandon(ctx, receipts); err != nil {
			report.AbandonErr = err
			s.logger.Warn().Err(err).Int("count", len(receipts)).Msg("Failed to abandon messages, they will be redelivered after their lease.")
		}
	}
}

func (s *BatchProcessingService) tokenFor(batch *types.Batch) types.CallbackToken {
	if batch != nil && batch.Token != "" {
		return batch.Token
	}
	return s.cfg.CallbackToken
}

// decide picks the signal for a processed batch. An empty kind means success.
func (s *BatchProcessingService) decide(res *AggregateResult, total int) (types.ErrorKind, callback.Result) {
	switch {
	case res.Catastrophic:
		return res.CatastrophicKind, callback.Result{Success: false, Message: res.CatastrophicCause}
	case !res.HasFailures():
		return "", callback.Result{Success: true, Message: fmt.Sprintf("OK: %d messages processed", total)}
	}

	summary := fmt.Sprintf("%d of %d messages failed: %s", len(res.Failed), total, strings.Join(res.FailedIDs(), ", "))
	if s.cfg.PartialSuccessPolicy == PolicySucceed {
		return "", callback.Result{Success: true, Message: summary}
	}
	return types.KindPartialFailure, callback.Result{Success: false, Message: summary}
}

func (s *BatchProcessingService) failBeforeProcessing(ctx context.Context, srcErr error) (*CycleReport, error) {
	s.logger.Error().Err(srcErr).Msg("Failed to obtain batch.")
	report := &CycleReport{SourceErr: srcErr, Signal: SignalNone}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	// A document that failed to parse may still have named its token.
	token := batchsource.TokenFromError(srcErr)
	if token == "" {
		token = s.cfg.CallbackToken
	}
	cause := callback.Result{Success: false, Message: srcErr.Error()}
	sigErr := s.signal(settleCtx, token, types.KindBatchSourceError, cause, report)
	return report, errors.Join(fmt.Errorf("next batch: %w", srcErr), sigErr)
}

// signal sends one signal. Only transport failures are returned.
func (s *BatchProcessingService) signal(ctx context.Context, token types.CallbackToken, kind types.ErrorKind, result callback.Result, report *CycleReport) error {
	if s.signaler == nil {
		return nil
	}

	var err error
	if kind == "" {
		err = s.signaler.SignalSuccess(ctx, token, result)
	} else {
		err = s.signaler.SignalFailure(ctx, token, kind, result)
	}

	switch {
	case errors.Is(err, callback.ErrNoToken):
		s.logger.Debug().Msg("No callback token for batch, no signal sent.")
		return nil
	case err == nil:
		report.Signal = SignalSuccess
		if kind != "" {
			report.Signal = SignalFailure
			report.SignalErrorKind = kind
		}
		return nil
	case errors.Is(err, callback.ErrCallbackProtocol):
		report.SignalErr = err
		s.logger.Warn().Err(err).Msg("Orchestration refused the callback, continuing.")
		return nil
	default:
		report.SignalErr = err
		return fmt.Errorf("signal orchestration: %w", err)
	}
}
