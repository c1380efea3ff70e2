// Package batchsource yields one static batch of raw messages per processing
// cycle. The strategy (Pub/Sub poll, pushed event batch or GCS blob) is fixed
// at startup by configuration.
package batchsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	vkit "cloud.google.com/go/pubsub/apiv1"
)

var (
	// ErrExhausted is returned by one-shot sources once their batch has been handed out.
	ErrExhausted = errors.New("batch source exhausted")
	// ErrMalformedBatch is returned when a batch document cannot be parsed.
	ErrMalformedBatch = errors.New("malformed batch document")
)

// Kind selects the batch source strategy.
type Kind string

const (
	KindPoll  Kind = "poll"
	KindEvent Kind = "event"
	KindBlob  Kind = "blob"
)

// Acknowledger settles messages with the transport once their outcome is known.
type Acknowledger interface {
	// Acknowledge permanently removes the messages identified by receipts,
	// in a single batched call where the transport allows it.
	Acknowledge(ctx context.Context, receipts []string) error
	// Abandon makes the messages available for redelivery without removing them.
	Abandon(ctx context.Context, receipts []string) error
}

// Source produces batches for processing cycles.
type Source interface {
	Acknowledger
	// Next returns the next batch. A poll that times out returns an empty
	// batch and no error. One-shot sources return ErrExhausted after their
	// only batch.
	Next(ctx context.Context) (*types.Batch, error)
	// Kind reports the strategy in use.
	Kind() Kind
	// Close releases any client the source created.
	Close() error
}

// Config holds the settings for every source strategy; only the fields of
// the selected Kind are used.
type Config struct {
	Kind Kind `yaml:"kind"`

	// Poll settings.
	ProjectID           string        `yaml:"project_id"`
	SubscriptionID      string        `yaml:"subscription_id"`
	MaxMessages         int           `yaml:"max_messages"`
	WaitTime            time.Duration `yaml:"wait_time"`
	LeaseDuration       time.Duration `yaml:"lease_duration"`
	MaxDeliveryAttempts int           `yaml:"max_delivery_attempts"`

	// Blob settings.
	Bucket string `yaml:"bucket"`
	Object string `yaml:"object"`

	// EventPayload is the materialized batch handed over by the host.
	EventPayload string `yaml:"-"`
}

// Defaults used when the configuration leaves a field unset.
const (
	DefaultMaxMessages   = 10
	DefaultWaitTime      = 20 * time.Second
	DefaultLeaseDuration = 5 * time.Minute
)

// ApplyDefaults fills unset poll settings.
func (c *Config) ApplyDefaults() {
	if c.Kind == "" {
		c.Kind = KindPoll
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.WaitTime <= 0 {
		c.WaitTime = DefaultWaitTime
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
}

// Validate checks that the selected strategy has what it needs.
func (c *Config) Validate() error {
	switch c.Kind {
	case KindPoll:
		if c.ProjectID == "" {
			return errors.New("source: project_id is required for poll sources")
		}
		if c.SubscriptionID == "" {
			return errors.New("source: subscription_id is required for poll sources")
		}
	case KindEvent:
		if c.EventPayload == "" {
			return errors.New("source: INPUT_MESSAGE is required for event sources")
		}
	case KindBlob:
		if c.Bucket == "" || c.Object == "" {
			return errors.New("source: bucket and object are required for blob sources")
		}
	default:
		return fmt.Errorf("source: unknown kind %q", c.Kind)
	}
	return nil
}

// New builds the source selected by cfg.Kind. Clients created here are owned
// by the returned source and released by its Close.
func New(ctx context.Context, cfg *Config, opts []option.ClientOption, logger zerolog.Logger) (Source, error) {
	switch cfg.Kind {
	case KindPoll:
		client, err := vkit.NewSubscriberClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub subscriber client for %s: %w", cfg.SubscriptionID, err)
		}
		return NewPubsubPollSource(client, cfg, logger)
	case KindEvent:
		return NewEventBatchSource([]byte(cfg.EventPayload), logger), nil
	case KindBlob:
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		src, err := NewGCSBlobSource(NewGCSClientAdapter(client), cfg.Bucket, cfg.Object, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		src.closer = client.Close
		return src, nil
	default:
		return nil, fmt.Errorf("unknown batch source kind %q", cfg.Kind)
	}
}

// noopAcknowledger is used by sources whose host settles messages itself.
type noopAcknowledger struct {
	logger zerolog.Logger
}

func (n noopAcknowledger) Acknowledge(_ context.Context, receipts []string) error {
	n.logger.Debug().Int("count", len(receipts)).Msg("Host settles messages for this source, acknowledge is a no-op.")
	return nil
}

func (n noopAcknowledger) Abandon(_ context.Context, receipts []string) error {
	n.logger.Debug().Int("count", len(receipts)).Msg("Host settles messages for this source, abandon is a no-op.")
	return nil
}
