package batchsource

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
)

// EventBatchSource serves a batch that the host has already materialized,
// such as an event pipe invoking a task with the batch in its environment.
// There is no waiting: the batch is parsed on the first call to Next and
// every later call returns ErrExhausted.
type EventBatchSource struct {
	noopAcknowledger
	payload []byte
	logger  zerolog.Logger

	mu       sync.Mutex
	consumed bool
}

// NewEventBatchSource creates a one-shot source over payload.
func NewEventBatchSource(payload []byte, logger zerolog.Logger) *EventBatchSource {
	l := logger.With().Str("component", "EventBatchSource").Logger()
	return &EventBatchSource{
		noopAcknowledger: noopAcknowledger{logger: l},
		payload:          append([]byte(nil), payload...),
		logger:           l,
	}
}

// Next parses and returns the materialized batch exactly once.
func (s *EventBatchSource) Next(_ context.Context) (*types.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return nil, ErrExhausted
	}
	s.consumed = true

	batch, err := parseBatchDocument(s.payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse event batch.")
		return nil, err
	}
	s.logger.Info().Int("batch_size", batch.Len()).Msg("Event batch received.")
	return batch, nil
}

// Kind implements Source.
func (s *EventBatchSource) Kind() Kind { return KindEvent }

// Close implements Source.
func (s *EventBatchSource) Close() error { return nil }
