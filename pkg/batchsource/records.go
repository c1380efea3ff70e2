package batchsource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-batchrelay/pkg/types"
)

// record is one element of an event batch or blob document. Keys are matched
// case-insensitively. A record may also be a bare envelope, recognised by its
// metadata key.
type record struct {
	MessageID      string            `json:"messageId"`
	Body           json.RawMessage   `json:"body"`
	Data           json.RawMessage   `json:"data"`
	ReceiptHandle  string            `json:"receiptHandle"`
	PartitionKey   string            `json:"partitionKey"`
	SequenceNumber string            `json:"sequenceNumber"`
	Attributes     map[string]string `json:"attributes"`
	Metadata       *struct {
		MessageID string `json:"messageId"`
	} `json:"metadata"`
}

type batchDocument struct {
	CallbackToken string          `json:"callbackToken"`
	Records       json.RawMessage `json:"records"`
}

// MalformedBatchError reports a batch document that could not be turned into
// messages. Token is set when the document carried a callback token before
// the failure, so the waiting orchestration can still be told.
type MalformedBatchError struct {
	Token  types.CallbackToken
	Reason string
}

func (e *MalformedBatchError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedBatch, e.Reason)
}

func (e *MalformedBatchError) Unwrap() error { return ErrMalformedBatch }

// TokenFromError returns the callback token carried by a MalformedBatchError
// anywhere in err's chain.
func TokenFromError(err error) types.CallbackToken {
	var mbe *MalformedBatchError
	if errors.As(err, &mbe) {
		return mbe.Token
	}
	return ""
}

// parseBatchDocument accepts either a JSON array of records or an object of
// the form {"callbackToken": "...", "records": [...]}. Only a document whose
// shape is wrong fails as a whole; a bad record becomes a message of its own
// and fails when its envelope is decoded.
func parseBatchDocument(doc []byte) (*types.Batch, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 {
		return nil, &MalformedBatchError{Reason: "document is empty"}
	}

	var (
		elements []json.RawMessage
		token    types.CallbackToken
	)
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, &MalformedBatchError{Reason: err.Error()}
		}
	case '{':
		var bd batchDocument
		if err := json.Unmarshal(trimmed, &bd); err != nil {
			return nil, &MalformedBatchError{Reason: err.Error()}
		}
		token = types.CallbackToken(bd.CallbackToken)
		if isAbsentJSON(bd.Records) {
			return nil, &MalformedBatchError{Token: token, Reason: "records field is missing"}
		}
		if err := json.Unmarshal(bd.Records, &elements); err != nil {
			return nil, &MalformedBatchError{Token: token, Reason: fmt.Sprintf("records is not an array: %v", err)}
		}
	default:
		return nil, &MalformedBatchError{Reason: "expected an array or an object"}
	}

	batch := &types.Batch{
		Messages: make([]types.RawMessage, 0, len(elements)),
		Token:    token,
	}
	for i, el := range elements {
		batch.Messages = append(batch.Messages, parseRecord(i, el))
	}
	return batch, nil
}

func isAbsentJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// parseRecord never fails: a record that is not an object, or has no body,
// is passed on verbatim so the envelope decoder rejects that message alone.
func parseRecord(index int, raw json.RawMessage) types.RawMessage {
	fallbackID := fmt.Sprintf("record-%d", index)

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.RawMessage{ID: fallbackID, Body: append([]byte(nil), raw...)}
	}

	msg := types.RawMessage{
		ID:             rec.MessageID,
		ReceiptToken:   rec.ReceiptHandle,
		PartitionKey:   rec.PartitionKey,
		SequenceNumber: rec.SequenceNumber,
		Attributes:     rec.Attributes,
	}

	switch {
	case rec.Metadata != nil:
		// The record is itself an envelope.
		msg.Body = append([]byte(nil), raw...)
		if msg.ID == "" {
			msg.ID = rec.Metadata.MessageID
		}
	case len(rec.Body) > 0:
		msg.Body = recordBody(rec.Body)
	case len(rec.Data) > 0:
		msg.Body = recordBody(rec.Data)
	default:
		msg.Body = append([]byte(nil), raw...)
	}

	if msg.ID == "" {
		msg.ID = fallbackID
	}
	return msg
}

// recordBody unquotes bodies delivered as JSON strings and keeps any other
// JSON value verbatim. An unquotable string is kept as-is so that the
// envelope decoder reports it against the single message.
func recordBody(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return []byte(s)
		}
	}
	return append([]byte(nil), trimmed...)
}
