package types

import (
	"time"
)

// CallbackToken is the opaque handle of one pending step in an external
// orchestration. It is consumed by exactly one terminal signal.
type CallbackToken string

// RawMessage is a message as it arrived from a BatchSource, before the
// envelope has been decoded.
type RawMessage struct {
	// ID is the identifier assigned by the source (Pub/Sub message id, record id).
	ID string
	// Body is the raw byte content of the message, normally an encoded envelope.
	Body []byte
	// ReceiptToken is the transport handle used to acknowledge or abandon the
	// message. It is opaque outside the source that produced it and empty for
	// sources the host acknowledges on our behalf.
	ReceiptToken string
	// PartitionKey is the shard/ordering key, if the transport has one.
	PartitionKey string
	// SequenceNumber is the position of the record within its partition, if known.
	SequenceNumber string
	// PublishTime is when the transport accepted the message.
	PublishTime time.Time
	// Attributes carries transport attributes verbatim.
	Attributes map[string]string
}

// Batch is the static snapshot of messages handled in one processing cycle.
type Batch struct {
	Messages []RawMessage
	// Token is shared by the whole batch. Empty means fire-and-forget.
	Token CallbackToken
}

// Len returns the number of messages in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Messages)
}

// Snapshot returns a deep copy of the batch so that later changes by the
// producer of the messages are never observed by the cycle.
func (b *Batch) Snapshot() *Batch {
	if b == nil {
		return nil
	}
	msgs := make([]RawMessage, len(b.Messages))
	for i, m := range b.Messages {
		body := make([]byte, len(m.Body))
		copy(body, m.Body)
		m.Body = body
		if m.Attributes != nil {
			attrs := make(map[string]string, len(m.Attributes))
			for k, v := range m.Attributes {
				attrs[k] = v
			}
			m.Attributes = attrs
		}
		msgs[i] = m
	}
	return &Batch{Messages: msgs, Token: b.Token}
}
