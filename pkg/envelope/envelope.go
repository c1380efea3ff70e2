// Package envelope defines the wire format shared by publishers and
// consumers: a JSON object holding trace metadata and a typed payload.
package envelope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/illmade-knight/go-batchrelay/pkg/tracelink"
)

// ErrMalformedEnvelope is returned by Decode for any body that cannot be
// turned into a valid Envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Metadata is the trace metadata carried by every envelope.
type Metadata = tracelink.Metadata

// Envelope wraps a payload with the metadata needed to link the consumer's
// trace to the producer's.
type Envelope[T any] struct {
	Metadata Metadata `json:"metadata"`
	Data     T        `json:"data"`
}

// Validator can be implemented by payloads that need checks beyond struct tags.
type Validator interface {
	Validate() error
}

// New wraps payload with metadata captured from the span active in ctx.
func New[T any](ctx context.Context, payload T) Envelope[T] {
	return Envelope[T]{
		Metadata: tracelink.CreateMetadata(ctx),
		Data:     payload,
	}
}

// Encode serializes the envelope to UTF-8 JSON.
func Encode[T any](env Envelope[T]) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.Metadata.MessageID, err)
	}
	return b, nil
}

// wireEnvelope keeps the raw payload so that absent and null fields can be told apart.
type wireEnvelope struct {
	Metadata *Metadata      `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

// Decode parses body into an Envelope. Field names are matched case-insensitively.
// Any failure wraps ErrMalformedEnvelope.
func Decode[T any](body []byte) (*Envelope[T], error) {
	var wire wireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if wire.Metadata == nil {
		return nil, fmt.Errorf("%w: metadata is missing", ErrMalformedEnvelope)
	}
	if isAbsent(wire.Data) {
		return nil, fmt.Errorf("%w: data is missing", ErrMalformedEnvelope)
	}

	var payload T
	if err := json.Unmarshal(wire.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: data does not match payload schema: %v", ErrMalformedEnvelope, err)
	}
	if err := validatePayload(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	return &Envelope[T]{Metadata: *wire.Metadata, Data: payload}, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func validatePayload[T any](payload *T) error {
	v := reflect.ValueOf(payload).Elem()
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return errors.New("data is null")
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if err := validate.Struct(v.Interface()); err != nil {
			return fmt.Errorf("data failed validation: %w", err)
		}
	}
	if pv, ok := any(payload).(Validator); ok {
		return pv.Validate()
	}
	if pv, ok := any(*payload).(Validator); ok {
		return pv.Validate()
	}
	return nil
}
