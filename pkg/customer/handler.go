package customer

import (
	"context"
	"fmt"
	"time"

	"github.com/illmade-knight/go-batchrelay/pkg/envelope"
	"github.com/illmade-knight/go-batchrelay/pkg/processor"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
)

var _ processor.Handler[CustomerCreatedEvent] = (*Handler)(nil)

// Handler processes CustomerCreatedEvent envelopes.
type Handler struct {
	store        Store
	simulateWork time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// NewHandler creates a Handler. simulateWork delays every message, standing
// in for a slow downstream call.
func NewHandler(store Store, simulateWork time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		store:        store,
		simulateWork: simulateWork,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger.With().Str("component", "CustomerHandler").Logger(),
	}
}

// Handle stores the customer. Store errors are returned unchanged in their
// chain so that an unavailable store aborts the batch.
func (h *Handler) Handle(ctx context.Context, env *envelope.Envelope[CustomerCreatedEvent], msg types.RawMessage) (any, error) {
	if h.simulateWork > 0 {
		select {
		case <-time.After(h.simulateWork):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ev := env.Data
	if ev.FirstName == ForcedFailureName {
		return nil, fmt.Errorf("customer %s: %w", ev.CustomerID, ErrForcedFailure)
	}

	rec := Record{
		CustomerID:  ev.CustomerID,
		FirstName:   ev.FirstName,
		MessageID:   env.Metadata.MessageID,
		PublishDate: env.Metadata.PublishDate,
		ProcessedAt: h.now(),
	}
	if err := h.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("store customer %s: %w", ev.CustomerID, err)
	}
	h.logger.Debug().Str("msg_id", msg.ID).Str("customer_id", ev.CustomerID).Msg("Customer stored.")
	return ev.CustomerID, nil
}
