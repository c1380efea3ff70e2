// Package customer is the sample workload carried through the pipeline: a
// customer-created event that is stored idempotently by customer id.
package customer

import (
	"errors"
	"time"
)

// ForcedFailureName makes the handler fail the message. It exists so that
// partial-failure handling can be exercised end to end.
const ForcedFailureName = "force-failure"

// ErrForcedFailure is returned for events whose first name is ForcedFailureName.
var ErrForcedFailure = errors.New("forced processing failure")

// CustomerCreatedEvent is published when a customer signs up.
type CustomerCreatedEvent struct {
	CustomerID string `json:"customerId" validate:"required"`
	FirstName  string `json:"firstName" validate:"required"`
}

// Record is the stored form of a processed event.
type Record struct {
	CustomerID  string    `firestore:"customerId"`
	FirstName   string    `firestore:"firstName"`
	MessageID   string    `firestore:"messageId"`
	PublishDate time.Time `firestore:"publishDate"`
	ProcessedAt time.Time `firestore:"processedAt"`
}
