// Package callback reports the result of a batch to the orchestration that
// is waiting on it. Each callback token may be used exactly once.
package callback

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
)

// Result is the payload delivered to the orchestration.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Signaler delivers a result to the orchestration for a token. Implementations
// return a *ProtocolError when the orchestration rejects the token itself.
type Signaler interface {
	SendSuccess(ctx context.Context, token types.CallbackToken, output Result) error
	SendFailure(ctx context.Context, token types.CallbackToken, errorKind string, cause Result) error
}

// Ledger records consumed tokens.
type Ledger interface {
	// Claim marks token as consumed. It returns false if it already was.
	Claim(ctx context.Context, token types.CallbackToken) (bool, error)
	// Release forgets a claim so the token can be used again.
	Release(ctx context.Context, token types.CallbackToken) error
}

// Callback sends at most one signal per token.
type Callback struct {
	signaler Signaler
	ledger   Ledger
	logger   zerolog.Logger
}

// New creates a Callback. A nil ledger means an in-process MemoryLedger.
func New(signaler Signaler, ledger Ledger, logger zerolog.Logger) (*Callback, error) {
	if signaler == nil {
		return nil, errors.New("signaler cannot be nil")
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Callback{
		signaler: signaler,
		ledger:   ledger,
		logger:   logger.With().Str("component", "Callback").Logger(),
	}, nil
}

// SignalSuccess reports a successful batch.
func (c *Callback) SignalSuccess(ctx context.Context, token types.CallbackToken, output Result) error {
	return c.signal(ctx, token, "success", func() error {
		return c.signaler.SendSuccess(ctx, token, output)
	})
}

// SignalFailure reports a failed batch with a machine-readable kind.
func (c *Callback) SignalFailure(ctx context.Context, token types.CallbackToken, kind types.ErrorKind, cause Result) error {
	return c.signal(ctx, token, "failure", func() error {
		return c.signaler.SendFailure(ctx, token, string(kind), cause)
	})
}

func (c *Callback) signal(ctx context.Context, token types.CallbackToken, what string, send func() error) error {
	if token == "" {
		return ErrNoToken
	}
	log := c.logger.With().Str("token", redact(token)).Str("signal", what).Logger()

	claimed, err := c.ledger.Claim(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: claim token: %w", ErrCallbackTransport, err)
	}
	if !claimed {
		log.Warn().Msg("Callback token was already used, not signalling again.")
		return &ProtocolError{Token: token, Reason: "already signalled"}
	}

	err = send()
	if err == nil {
		log.Info().Msg("Signalled orchestration.")
		return nil
	}
	if errors.Is(err, ErrCallbackProtocol) {
		log.Warn().Err(err).Msg("Orchestration rejected callback token.")
		return err
	}

	if relErr := c.ledger.Release(ctx, token); relErr != nil {
		log.Error().Err(relErr).Msg("Failed to release callback token after transport error.")
	}
	log.Error().Err(err).Msg("Failed to reach orchestration.")
	return fmt.Errorf("%w: %w", ErrCallbackTransport, err)
}
