package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
)

// Attribute keys set on callback messages.
const (
	AttrCallbackToken = "callback_token"
	AttrSuccess       = "success"
	AttrErrorKind     = "error_kind"
)

// PubsubSignaler publishes results to a callback topic for orchestrations
// that wait on a queue rather than exposing a completion API.
type PubsubSignaler struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewPubsubSignaler creates a signaler publishing to topic. The caller owns the topic.
func NewPubsubSignaler(topic *pubsub.Topic, logger zerolog.Logger) (*PubsubSignaler, error) {
	if topic == nil {
		return nil, errors.New("callback topic cannot be nil")
	}
	return &PubsubSignaler{
		topic:  topic,
		logger: logger.With().Str("component", "PubsubSignaler").Str("topic_id", topic.ID()).Logger(),
	}, nil
}

func (s *PubsubSignaler) SendSuccess(ctx context.Context, token types.CallbackToken, output Result) error {
	return s.publish(ctx, token, output, "")
}

func (s *PubsubSignaler) SendFailure(ctx context.Context, token types.CallbackToken, errorKind string, cause Result) error {
	return s.publish(ctx, token, cause, errorKind)
}

func (s *PubsubSignaler) publish(ctx context.Context, token types.CallbackToken, r Result, errorKind string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal callback result: %w", err)
	}
	attrs := map[string]string{
		AttrCallbackToken: string(token),
		AttrSuccess:       strconv.FormatBool(r.Success && errorKind == ""),
	}
	if errorKind != "" {
		attrs[AttrErrorKind] = errorKind
	}

	id, err := s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish callback: %w", err)
	}
	s.logger.Debug().Str("msg_id", id).Msg("Published callback result.")
	return nil
}
