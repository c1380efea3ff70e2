// Package loadgen publishes a steady stream of customer events for load and
// partial-failure testing of the pipeline.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-batchrelay/pkg/customer"
	"github.com/rs/zerolog"
)

// Publisher sends one event keyed by partitionKey and returns its message id.
type Publisher interface {
	Publish(ctx context.Context, event customer.CustomerCreatedEvent, partitionKey string) (string, error)
}

// EventGenerator builds the n-th event (counting from 1) of a stream.
type EventGenerator func(streamKey string, n int) customer.CustomerCreatedEvent

// Stream is one partition key published at Rate messages per second.
type Stream struct {
	Key  string
	Rate float64
}

// CustomerEvents generates events with fresh customer ids. When failEvery is
// positive every failEvery-th event of a stream carries the forced failure name.
func CustomerEvents(failEvery int) EventGenerator {
	return func(streamKey string, n int) customer.CustomerCreatedEvent {
		name := fmt.Sprintf("%s-customer-%d", streamKey, n)
		if failEvery > 0 && n%failEvery == 0 {
			name = customer.ForcedFailureName
		}
		return customer.CustomerCreatedEvent{CustomerID: uuid.NewString(), FirstName: name}
	}
}

// Generator drives one goroutine per stream.
type Generator struct {
	publisher Publisher
	streams   []Stream
	generate  EventGenerator
	logger    zerolog.Logger

	publishedCount int64
}

func New(publisher Publisher, streams []Stream, generate EventGenerator, logger zerolog.Logger) (*Generator, error) {
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if generate == nil {
		generate = CustomerEvents(0)
	}
	return &Generator{
		publisher: publisher,
		streams:   streams,
		generate:  generate,
		logger:    logger.With().Str("component", "LoadGenerator").Logger(),
	}, nil
}

// Run publishes until duration elapses or ctx is done and returns the number
// of successful publishes.
func (g *Generator) Run(ctx context.Context, duration time.Duration) (int, error) {
	atomic.StoreInt64(&g.publishedCount, 0)
	g.logger.Info().Int("num_streams", len(g.streams)).Dur("duration", duration).Msg("Starting load generator")

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range g.streams {
		wg.Add(1)
		go func(s Stream) {
			defer wg.Done()
			g.runStream(runCtx, s)
		}(s)
	}
	wg.Wait()

	count := int(atomic.LoadInt64(&g.publishedCount))
	g.logger.Info().Int("successful_publishes", count).Msg("Load generator finished")
	return count, nil
}

func (g *Generator) runStream(ctx context.Context, s Stream) {
	if s.Rate <= 0 {
		g.logger.Warn().Str("stream", s.Key).Msg("Stream has a message rate of 0, no messages will be sent")
		return
	}

	interval := time.Duration(float64(time.Second) / s.Rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event := g.generate(s.Key, n)
			n++
			if _, err := g.publisher.Publish(ctx, event, s.Key); err != nil {
				if ctx.Err() == nil {
					g.logger.Error().Err(err).Str("stream", s.Key).Msg("Failed to publish event")
				}
				continue
			}
			atomic.AddInt64(&g.publishedCount, 1)
		}
	}
}
