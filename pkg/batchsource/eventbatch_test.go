package batchsource_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-batchrelay/pkg/batchsource"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const envelopeBody = `{"metadata":{"traceId":"4bf92f3577b34da6a3ce929d0e0e4736","spanId":"00f067aa0ba902b7","messageId":"m-1"},"data":{"customerId":"c-1","firstName":"Ada"}}`

func TestEventBatchSource_ArrayOfRecords(t *testing.T) {
	doc := `[
		{"MessageId": "a", "Body": ` + quote(envelopeBody) + `, "ReceiptHandle": "rh-a"},
		{"messageId": "b", "data": ` + envelopeBody + `, "partitionKey": "default", "sequenceNumber": "42"}
	]`
	src := batchsource.NewEventBatchSource([]byte(doc), zerolog.Nop())
	require.Equal(t, batchsource.KindEvent, src.Kind())

	batch, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	assert.Empty(t, batch.Token)

	assert.Equal(t, "a", batch.Messages[0].ID)
	assert.Equal(t, "rh-a", batch.Messages[0].ReceiptToken)
	assert.JSONEq(t, envelopeBody, string(batch.Messages[0].Body), "string bodies are unquoted")

	assert.Equal(t, "b", batch.Messages[1].ID)
	assert.Equal(t, "default", batch.Messages[1].PartitionKey)
	assert.Equal(t, "42", batch.Messages[1].SequenceNumber)
	assert.JSONEq(t, envelopeBody, string(batch.Messages[1].Body), "object bodies are kept verbatim")
}

func TestEventBatchSource_ObjectWithToken(t *testing.T) {
	doc := `{"callbackToken": "tok-123", "records": [{"body": "not json at all"}]}`
	src := batchsource.NewEventBatchSource([]byte(doc), zerolog.Nop())

	batch, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.CallbackToken("tok-123"), batch.Token)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, "record-0", batch.Messages[0].ID)
	assert.Equal(t, "not json at all", string(batch.Messages[0].Body))
}

func TestEventBatchSource_BareEnvelopes(t *testing.T) {
	doc := `[` + envelopeBody + `]`
	src := batchsource.NewEventBatchSource([]byte(doc), zerolog.Nop())

	batch, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, "m-1", batch.Messages[0].ID)
	assert.JSONEq(t, envelopeBody, string(batch.Messages[0].Body))
}

func TestEventBatchSource_OneShot(t *testing.T) {
	src := batchsource.NewEventBatchSource([]byte(`[]`), zerolog.Nop())

	batch, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Len())

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, batchsource.ErrExhausted)

	assert.NoError(t, src.Acknowledge(context.Background(), []string{"x"}))
	assert.NoError(t, src.Abandon(context.Background(), []string{"x"}))
	assert.NoError(t, src.Close())
}

func TestEventBatchSource_Malformed(t *testing.T) {
	testCases := map[string]string{
		"empty":          ``,
		"truncated":      `[{"body": "x"`,
		"scalar":         `42`,
		"no records":     `{"callbackToken": "t"}`,
		"records scalar": `{"records": 5}`,
		"string":         `"just a string"`,
	}
	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			src := batchsource.NewEventBatchSource([]byte(doc), zerolog.Nop())
			batch, err := src.Next(context.Background())
			assert.Nil(t, batch)
			assert.ErrorIs(t, err, batchsource.ErrMalformedBatch)
		})
	}
}

func TestEventBatchSource_BadRecordsStayInBatch(t *testing.T) {
	for name, bad := range map[string]string{
		"scalar record":  `42`,
		"record no body": `{"messageId": "m-3"}`,
	} {
		t.Run(name, func(t *testing.T) {
			doc := `[` + envelopeBody + `,` + envelopeBody + `,` + bad + `,` + envelopeBody + `,` + envelopeBody + `]`
			src := batchsource.NewEventBatchSource([]byte(doc), zerolog.Nop())

			batch, err := src.Next(context.Background())
			require.NoError(t, err)
			require.Equal(t, 5, batch.Len())
			assert.JSONEq(t, bad, string(batch.Messages[2].Body), "the bad record is passed on verbatim")
			assert.JSONEq(t, envelopeBody, string(batch.Messages[3].Body))
		})
	}

	t.Run("ids", func(t *testing.T) {
		src := batchsource.NewEventBatchSource([]byte(`[42, {"messageId": "m-1"}]`), zerolog.Nop())
		batch, err := src.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, batch.Len())
		assert.Equal(t, "record-0", batch.Messages[0].ID)
		assert.Equal(t, "m-1", batch.Messages[1].ID)
	})
}

func TestEventBatchSource_MalformedKeepsToken(t *testing.T) {
	testCases := map[string]string{
		"records missing":    `{"callbackToken": "tok-123"}`,
		"records not array":  `{"callbackToken": "tok-123", "records": {"a": 1}}`,
		"records wrong type": `{"CallbackToken": "tok-123", "records": 7}`,
	}
	for name, doc := range testCases {
		t.Run(name, func(t *testing.T) {
			src := batchsource.NewEventBatchSource([]byte(doc), zerolog.Nop())
			_, err := src.Next(context.Background())
			require.ErrorIs(t, err, batchsource.ErrMalformedBatch)

			var mbe *batchsource.MalformedBatchError
			require.ErrorAs(t, err, &mbe)
			assert.Equal(t, types.CallbackToken("tok-123"), batchsource.TokenFromError(err))
		})
	}

	_, err := batchsource.NewEventBatchSource([]byte(`[1,`), zerolog.Nop()).Next(context.Background())
	require.ErrorIs(t, err, batchsource.ErrMalformedBatch)
	assert.Empty(t, batchsource.TokenFromError(err))
}
