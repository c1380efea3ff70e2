package callback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

// ActivityCompleter is the part of client.Client used to finish an
// asynchronously completed activity.
type ActivityCompleter interface {
	CompleteActivity(ctx context.Context, taskToken []byte, result interface{}, err error) error
}

// TemporalConfig holds the connection settings for a Temporal frontend.
type TemporalConfig struct {
	HostPort  string `yaml:"temporal_host"`
	Namespace string `yaml:"temporal_namespace"`
}

// DialTemporal connects to the Temporal frontend.
func DialTemporal(cfg *TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}
	return c, nil
}

// TemporalSignaler completes the workflow activity that is waiting on the
// batch. The callback token is the base64 encoded activity task token.
type TemporalSignaler struct {
	completer ActivityCompleter
	logger    zerolog.Logger
}

// NewTemporalSignaler creates a signaler around completer, usually a client.Client.
func NewTemporalSignaler(completer ActivityCompleter, logger zerolog.Logger) (*TemporalSignaler, error) {
	if completer == nil {
		return nil, errors.New("temporal client cannot be nil")
	}
	return &TemporalSignaler{
		completer: completer,
		logger:    logger.With().Str("component", "TemporalSignaler").Logger(),
	}, nil
}

func (s *TemporalSignaler) SendSuccess(ctx context.Context, token types.CallbackToken, output Result) error {
	taskToken, err := decodeTaskToken(token)
	if err != nil {
		return err
	}
	return s.complete(ctx, token, taskToken, output, nil)
}

func (s *TemporalSignaler) SendFailure(ctx context.Context, token types.CallbackToken, errorKind string, cause Result) error {
	taskToken, err := decodeTaskToken(token)
	if err != nil {
		return err
	}
	appErr := temporal.NewApplicationError(cause.Message, errorKind, cause)
	return s.complete(ctx, token, taskToken, nil, appErr)
}

func (s *TemporalSignaler) complete(ctx context.Context, token types.CallbackToken, taskToken []byte, result interface{}, failure error) error {
	err := s.completer.CompleteActivity(ctx, taskToken, result, failure)
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	var invalid *serviceerror.InvalidArgument
	switch {
	case errors.As(err, &notFound):
		return &ProtocolError{Token: token, Reason: "activity already completed or timed out", Err: err}
	case errors.As(err, &invalid):
		return &ProtocolError{Token: token, Reason: "task token rejected", Err: err}
	default:
		return fmt.Errorf("complete activity: %w", err)
	}
}

func decodeTaskToken(token types.CallbackToken) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(string(token))
	if err != nil || len(b) == 0 {
		return nil, &ProtocolError{Token: token, Reason: "task token is not valid base64", Err: err}
	}
	return b, nil
}

// EncodeTaskToken turns an activity task token into a callback token.
// Activities call it with activity.GetInfo(ctx).TaskToken before returning
// activity.ErrResultPending.
func EncodeTaskToken(taskToken []byte) types.CallbackToken {
	return types.CallbackToken(base64.StdEncoding.EncodeToString(taskToken))
}
