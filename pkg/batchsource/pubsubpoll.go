package batchsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	vkit "cloud.google.com/go/pubsub/apiv1"
)

// CallbackTokenAttribute is the message attribute that may carry the batch's callback token.
const CallbackTokenAttribute = "callback_token"

// maxAckIDsPerRequest keeps acknowledge requests under the Pub/Sub request size limit.
const maxAckIDsPerRequest = 1000

// PubsubPollSource actively pulls up to MaxMessages from a subscription with
// a bounded wait. Messages stay leased until acknowledged, abandoned or the
// subscription's ack deadline passes.
type PubsubPollSource struct {
	client              *vkit.SubscriberClient
	subscription        string
	maxMessages         int32
	waitTime            time.Duration
	maxDeliveryAttempts int
	logger              zerolog.Logger
}

// NewPubsubPollSource creates a poll source that owns client.
func NewPubsubPollSource(client *vkit.SubscriberClient, cfg *Config, logger zerolog.Logger) (*PubsubPollSource, error) {
	if client == nil {
		return nil, errors.New("pubsub subscriber client cannot be nil")
	}
	if cfg.ProjectID == "" || cfg.SubscriptionID == "" {
		return nil, errors.New("project and subscription ids are required")
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	waitTime := cfg.WaitTime
	if waitTime <= 0 {
		waitTime = DefaultWaitTime
	}
	subscription := fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, cfg.SubscriptionID)

	logger.Info().Str("subscription_id", cfg.SubscriptionID).Int("max_messages", maxMessages).
		Dur("wait_time", waitTime).Int("max_delivery_attempts", cfg.MaxDeliveryAttempts).
		Msg("Pub/Sub poll source initialized.")

	return &PubsubPollSource{
		client:              client,
		subscription:        subscription,
		maxMessages:         int32(maxMessages),
		waitTime:            waitTime,
		maxDeliveryAttempts: cfg.MaxDeliveryAttempts,
		logger:              logger.With().Str("component", "PubsubPollSource").Str("subscription_id", cfg.SubscriptionID).Logger(),
	}, nil
}

// Next pulls one batch. A wait that ends without messages yields an empty batch.
func (s *PubsubPollSource) Next(ctx context.Context) (*types.Batch, error) {
	pullCtx, cancel := context.WithTimeout(ctx, s.waitTime)
	defer cancel()

	resp, err := s.client.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: s.subscription,
		MaxMessages:  s.maxMessages,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
			s.logger.Debug().Msg("Poll wait elapsed without messages.")
			return &types.Batch{}, nil
		}
		return nil, fmt.Errorf("pull from %s: %w", s.subscription, err)
	}

	batch := &types.Batch{Messages: make([]types.RawMessage, 0, len(resp.GetReceivedMessages()))}
	for _, rm := range resp.GetReceivedMessages() {
		m := rm.GetMessage()
		msg := types.RawMessage{
			ID:           m.GetMessageId(),
			Body:         append([]byte(nil), m.GetData()...),
			ReceiptToken: rm.GetAckId(),
			PartitionKey: m.GetOrderingKey(),
			Attributes:   m.GetAttributes(),
		}
		if m.GetPublishTime() != nil {
			msg.PublishTime = m.GetPublishTime().AsTime()
		}
		if s.maxDeliveryAttempts > 0 && int(rm.GetDeliveryAttempt()) >= s.maxDeliveryAttempts {
			s.logger.Warn().Str("msg_id", msg.ID).Int32("delivery_attempt", rm.GetDeliveryAttempt()).
				Msg("Message is on its last delivery attempt before dead-lettering.")
		}
		batch.Messages = append(batch.Messages, msg)
	}
	batch.Token = sharedToken(batch.Messages)

	if batch.Len() > 0 {
		s.logger.Info().Int("batch_size", batch.Len()).Msg("Pulled batch.")
	}
	return batch, nil
}

// sharedToken returns the callback token only when every message carries the same one.
func sharedToken(msgs []types.RawMessage) types.CallbackToken {
	if len(msgs) == 0 {
		return ""
	}
	token := msgs[0].Attributes[CallbackTokenAttribute]
	for _, m := range msgs[1:] {
		if m.Attributes[CallbackTokenAttribute] != token {
			return ""
		}
	}
	return types.CallbackToken(token)
}

// Acknowledge deletes the messages from the subscription.
func (s *PubsubPollSource) Acknowledge(ctx context.Context, receipts []string) error {
	for _, chunk := range chunkReceipts(receipts) {
		err := s.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
			Subscription: s.subscription,
			AckIds:       chunk,
		})
		if err != nil {
			return fmt.Errorf("acknowledge %d messages on %s: %w", len(chunk), s.subscription, err)
		}
	}
	return nil
}

// Abandon sets the ack deadline of the messages to zero so they are redelivered promptly.
func (s *PubsubPollSource) Abandon(ctx context.Context, receipts []string) error {
	for _, chunk := range chunkReceipts(receipts) {
		err := s.client.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
			Subscription:       s.subscription,
			AckIds:             chunk,
			AckDeadlineSeconds: 0,
		})
		if err != nil {
			return fmt.Errorf("abandon %d messages on %s: %w", len(chunk), s.subscription, err)
		}
	}
	return nil
}

func chunkReceipts(receipts []string) [][]string {
	var chunks [][]string
	for start := 0; start < len(receipts); start += maxAckIDsPerRequest {
		end := start + maxAckIDsPerRequest
		if end > len(receipts) {
			end = len(receipts)
		}
		var chunk []string
		for _, r := range receipts[start:end] {
			if r != "" {
				chunk = append(chunk, r)
			}
		}
		if len(chunk) > 0 {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// Kind implements Source.
func (s *PubsubPollSource) Kind() Kind { return KindPoll }

// Close closes the subscriber client.
func (s *PubsubPollSource) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing Pub/Sub subscriber client")
		return err
	}
	s.logger.Info().Msg("Pub/Sub subscriber client closed.")
	return nil
}
