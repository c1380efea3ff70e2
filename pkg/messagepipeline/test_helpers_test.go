package messagepipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/illmade-knight/go-batchrelay/pkg/batchsource"
	"github.com/illmade-knight/go-batchrelay/pkg/callback"
	"github.com/illmade-knight/go-batchrelay/pkg/customer"
	"github.com/illmade-knight/go-batchrelay/pkg/envelope"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/stretchr/testify/require"
)

// --- MockBatchSource ---

// MockBatchSource hands out queued batches and records how each receipt was settled.
type MockBatchSource struct {
	mu        sync.Mutex
	kind      batchsource.Kind
	batches   []*types.Batch
	nextErr   error
	ackErr    error
	acked     []string
	abandoned []string
	ackCalls  int
	nextCalls int
}

func NewMockBatchSource(kind batchsource.Kind, batches ...*types.Batch) *MockBatchSource {
	return &MockBatchSource{kind: kind, batches: batches}
}

func (m *MockBatchSource) Next(ctx context.Context) (*types.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.nextErr != nil {
		return nil, m.nextErr
	}
	if len(m.batches) == 0 {
		if m.kind == batchsource.KindPoll {
			return &types.Batch{}, nil
		}
		return nil, batchsource.ErrExhausted
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

func (m *MockBatchSource) Acknowledge(_ context.Context, receipts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackCalls++
	if m.ackErr != nil {
		return m.ackErr
	}
	m.acked = append(m.acked, receipts...)
	return nil
}

func (m *MockBatchSource) Abandon(_ context.Context, receipts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned = append(m.abandoned, receipts...)
	return nil
}

func (m *MockBatchSource) Kind() batchsource.Kind { return m.kind }
func (m *MockBatchSource) Close() error           { return nil }

func (m *MockBatchSource) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

func (m *MockBatchSource) Abandoned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.abandoned...)
}

func (m *MockBatchSource) AckCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ackCalls
}

// --- RecordingSignaler ---

type signalCall struct {
	Token  types.CallbackToken
	Kind   types.ErrorKind
	Result callback.Result
}

// RecordingSignaler implements messagepipeline.Signaler and remembers every call.
type RecordingSignaler struct {
	mu        sync.Mutex
	successes []signalCall
	failures  []signalCall
	err       error
}

func (r *RecordingSignaler) SignalSuccess(_ context.Context, token types.CallbackToken, output callback.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, signalCall{Token: token, Result: output})
	return r.err
}

func (r *RecordingSignaler) SignalFailure(_ context.Context, token types.CallbackToken, kind types.ErrorKind, cause callback.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, signalCall{Token: token, Kind: kind, Result: cause})
	return r.err
}

func (r *RecordingSignaler) Successes() []signalCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signalCall(nil), r.successes...)
}

func (r *RecordingSignaler) Failures() []signalCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signalCall(nil), r.failures...)
}

// --- funcProcessor ---

type funcProcessor func(ctx context.Context, msg types.RawMessage) types.ProcessingOutcome

func (f funcProcessor) Process(ctx context.Context, msg types.RawMessage) types.ProcessingOutcome {
	return f(ctx, msg)
}

// --- Message builders ---

// customerMessage builds message i (1-based) of a batch carrying a customer event.
func customerMessage(t *testing.T, i int, firstName string) types.RawMessage {
	t.Helper()
	env := envelope.New(context.Background(), customer.CustomerCreatedEvent{
		CustomerID: fmt.Sprintf("c-%d", i),
		FirstName:  firstName,
	})
	body, err := envelope.Encode(env)
	require.NoError(t, err)
	return types.RawMessage{
		ID:           fmt.Sprintf("m-%d", i),
		Body:         body,
		ReceiptToken: fmt.Sprintf("r-%d", i),
	}
}

func customerBatch(t *testing.T, token types.CallbackToken, names ...string) *types.Batch {
	t.Helper()
	b := &types.Batch{Token: token}
	for i, name := range names {
		b.Messages = append(b.Messages, customerMessage(t, i+1, name))
	}
	return b
}
