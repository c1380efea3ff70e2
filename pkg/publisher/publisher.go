// Package publisher wraps payloads in trace-carrying envelopes and publishes
// them to Pub/Sub. It is the producing side of the pipeline.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-batchrelay/pkg/envelope"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanName is the producer span that the envelope metadata points at.
const SpanName = "publish message"

// Message attributes set on every published envelope.
const (
	AttrMessageID    = "message_id"
	AttrPartitionKey = "partition_key"
)

// Config holds configuration for the envelope publisher.
type Config struct {
	ProjectID string
	TopicID   string
}

// LoadConfigFromEnv loads publisher configuration from environment variables.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		ProjectID: os.Getenv("GCP_PROJECT_ID"),
		TopicID:   os.Getenv("PUBSUB_TOPIC_ID"),
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Pub/Sub publisher")
	}
	if cfg.TopicID == "" {
		return nil, errors.New("PUBSUB_TOPIC_ID environment variable not set for Pub/Sub publisher")
	}
	return cfg, nil
}

// EnsureTopic returns the topic after confirming it exists, retrying with
// backoff while the check fails.
func EnsureTopic(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)

	maxRetries := 3
	retryDelay := 100 * time.Millisecond
	var exists bool
	var existsErr error
	for i := 0; i < maxRetries; i++ {
		topicCtx, topicCancel := context.WithTimeout(ctx, 5*time.Second)
		exists, existsErr = topic.Exists(topicCtx)
		topicCancel()
		if existsErr == nil && exists {
			return topic, nil
		}
		logger.Warn().Err(existsErr).Str("topic_id", topicID).Int("attempt", i+1).Msg("Topic not confirmed yet, retrying...")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
	}
	if existsErr != nil {
		return nil, fmt.Errorf("failed to check existence of topic %s after %d retries: %w", topicID, maxRetries, existsErr)
	}
	return nil, fmt.Errorf("pubsub topic %s does not exist after %d retries", topicID, maxRetries)
}

// EnvelopePublisher publishes payloads of type T.
type EnvelopePublisher[T any] struct {
	topic  *pubsub.Topic
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewEnvelopePublisher creates a publisher. The caller owns topic and must Stop it.
func NewEnvelopePublisher[T any](topic *pubsub.Topic, tp trace.TracerProvider, logger zerolog.Logger) (*EnvelopePublisher[T], error) {
	if topic == nil {
		return nil, errors.New("pubsub topic cannot be nil for publisher")
	}
	if tp == nil {
		return nil, errors.New("tracer provider cannot be nil for publisher")
	}
	return &EnvelopePublisher[T]{
		topic:  topic,
		tracer: tp.Tracer("github.com/illmade-knight/go-batchrelay/publisher"),
		logger: logger.With().Str("component", "EnvelopePublisher").Str("topic_id", topic.ID()).Logger(),
	}, nil
}

// Publish sends payload inside a producer span and returns the envelope's
// message id. partitionKey becomes the ordering key when the topic has
// ordering enabled.
func (p *EnvelopePublisher[T]) Publish(ctx context.Context, payload T, partitionKey string) (string, error) {
	ctx, span := p.tracer.Start(ctx, SpanName, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	env := envelope.New(ctx, payload)
	span.SetAttributes(attribute.String("messaging.message.id", env.Metadata.MessageID))

	body, err := envelope.Encode(env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", err
	}

	msg := &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{AttrMessageID: env.Metadata.MessageID},
	}
	if partitionKey != "" {
		msg.Attributes[AttrPartitionKey] = partitionKey
		if p.topic.EnableMessageOrdering {
			msg.OrderingKey = partitionKey
		}
	}

	serverID, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		p.logger.Error().Err(err).Str("msg_id", env.Metadata.MessageID).Msg("Failed to publish envelope")
		return "", fmt.Errorf("publish envelope %s: %w", env.Metadata.MessageID, err)
	}

	p.logger.Info().Str("msg_id", env.Metadata.MessageID).Str("server_id", serverID).Msg("Published envelope.")
	return env.Metadata.MessageID, nil
}
