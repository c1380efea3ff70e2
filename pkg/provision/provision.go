// Package provision creates the Pub/Sub resources a poll pipeline reads from
// and signals through.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Pub/Sub bounds on subscription settings.
const (
	MinAckDeadline          = 10 * time.Second
	MaxAckDeadline          = 600 * time.Second
	MinDeliveryAttempts     = 5
	MaxDeliveryAttempts     = 100
	defaultDeliveryAttempts = MinDeliveryAttempts
)

// Resources names what a pipeline needs. Empty optional ids are skipped.
type Resources struct {
	TopicID        string
	SubscriptionID string
	// AckDeadline is the lease a pulled message is held for.
	AckDeadline    time.Duration
	EnableOrdering bool

	// MaxDeliveryAttempts is only applied together with DeadLetterTopicID.
	MaxDeliveryAttempts int
	DeadLetterTopicID   string

	CallbackTopicID string
}

func (r Resources) validate() error {
	if r.TopicID == "" {
		return errors.New("provision: topic id is required")
	}
	if r.SubscriptionID == "" {
		return errors.New("provision: subscription id is required")
	}
	if r.MaxDeliveryAttempts > 0 && r.DeadLetterTopicID == "" {
		return errors.New("provision: max delivery attempts needs a dead letter topic")
	}
	return nil
}

func (r Resources) topics() []string {
	ids := []string{r.TopicID}
	for _, id := range []string{r.DeadLetterTopicID, r.CallbackTopicID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ClampAckDeadline brings d into the range Pub/Sub accepts.
func ClampAckDeadline(d time.Duration) time.Duration {
	switch {
	case d < MinAckDeadline:
		return MinAckDeadline
	case d > MaxAckDeadline:
		return MaxAckDeadline
	}
	return d
}

func clampDeliveryAttempts(n int) int {
	switch {
	case n <= 0:
		return defaultDeliveryAttempts
	case n < MinDeliveryAttempts:
		return MinDeliveryAttempts
	case n > MaxDeliveryAttempts:
		return MaxDeliveryAttempts
	}
	return n
}

// Manager creates and deletes pipeline resources. Setup is idempotent:
// existing topics are kept and existing subscriptions are updated in place.
type Manager struct {
	client *pubsub.Client
	logger zerolog.Logger
}

func NewManager(client *pubsub.Client, logger zerolog.Logger) (*Manager, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	return &Manager{
		client: client,
		logger: logger.With().Str("component", "ProvisionManager").Logger(),
	}, nil
}

// Setup ensures every topic and then the input subscription.
func (m *Manager) Setup(ctx context.Context, res Resources) error {
	if err := res.validate(); err != nil {
		return err
	}
	m.logger.Info().Str("topic_id", res.TopicID).Str("subscription_id", res.SubscriptionID).Msg("Starting Pub/Sub setup")

	for _, id := range res.topics() {
		if _, err := m.ensureTopic(ctx, id); err != nil {
			return err
		}
	}
	if err := m.ensureSubscription(ctx, res); err != nil {
		return err
	}

	m.logger.Info().Str("subscription_id", res.SubscriptionID).Msg("Pub/Sub setup completed successfully")
	return nil
}

func (m *Manager) ensureTopic(ctx context.Context, id string) (*pubsub.Topic, error) {
	topic := m.client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of topic '%s': %w", id, err)
	}
	if exists {
		m.logger.Info().Str("topic_id", id).Msg("Topic already exists")
		return topic, nil
	}
	created, err := m.client.CreateTopic(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic '%s': %w", id, err)
	}
	m.logger.Info().Str("topic_id", id).Msg("Topic created successfully")
	return created, nil
}

func (m *Manager) ensureSubscription(ctx context.Context, res Resources) error {
	ackDeadline := ClampAckDeadline(res.AckDeadline)
	if res.AckDeadline > MaxAckDeadline {
		m.logger.Warn().Dur("requested", res.AckDeadline).Dur("applied", ackDeadline).
			Msg("Ack deadline exceeds the Pub/Sub maximum, clamped")
	}

	var deadLetter *pubsub.DeadLetterPolicy
	if res.DeadLetterTopicID != "" {
		deadLetter = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     m.client.Topic(res.DeadLetterTopicID).String(),
			MaxDeliveryAttempts: clampDeliveryAttempts(res.MaxDeliveryAttempts),
		}
	}

	sub := m.client.Subscription(res.SubscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existence of subscription '%s': %w", res.SubscriptionID, err)
	}

	if exists {
		update := pubsub.SubscriptionConfigToUpdate{AckDeadline: ackDeadline}
		if deadLetter != nil {
			update.DeadLetterPolicy = deadLetter
		}
		if _, err := sub.Update(ctx, update); err != nil {
			return fmt.Errorf("failed to update subscription '%s': %w", res.SubscriptionID, err)
		}
		m.logger.Info().Str("subscription_id", res.SubscriptionID).Msg("Subscription configuration updated")
		return nil
	}

	_, err = m.client.CreateSubscription(ctx, res.SubscriptionID, pubsub.SubscriptionConfig{
		Topic:                 m.client.Topic(res.TopicID),
		AckDeadline:           ackDeadline,
		EnableMessageOrdering: res.EnableOrdering,
		DeadLetterPolicy:      deadLetter,
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription '%s' for topic '%s': %w", res.SubscriptionID, res.TopicID, err)
	}
	m.logger.Info().Str("subscription_id", res.SubscriptionID).Str("topic_id", res.TopicID).Msg("Subscription created successfully")
	return nil
}

// Teardown deletes the subscription and then the topics. Missing resources
// are skipped.
func (m *Manager) Teardown(ctx context.Context, res Resources) error {
	var errs []error
	if res.SubscriptionID != "" {
		if err := m.client.Subscription(res.SubscriptionID).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			errs = append(errs, fmt.Errorf("delete subscription '%s': %w", res.SubscriptionID, err))
		}
	}
	topics := res.topics()
	for i := len(topics) - 1; i >= 0; i-- {
		if topics[i] == "" {
			continue
		}
		if err := m.client.Topic(topics[i]).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			errs = append(errs, fmt.Errorf("delete topic '%s': %w", topics[i], err))
		}
	}
	if len(errs) == 0 {
		m.logger.Info().Str("subscription_id", res.SubscriptionID).Msg("Pub/Sub teardown completed successfully")
	}
	return errors.Join(errs...)
}
