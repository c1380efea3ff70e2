package batchsource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock GCS client ---

type mockGCSClient struct {
	sync.Mutex
	objects map[string][]byte
	opened  int
	openErr error
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{objects: make(map[string][]byte)}
}

func (m *mockGCSClient) Bucket(name string) GCSBucketHandle {
	return &mockBucketHandle{client: m, bucket: name}
}

type mockBucketHandle struct {
	client *mockGCSClient
	bucket string
}

func (b *mockBucketHandle) Object(name string) GCSObjectHandle {
	return &mockObjectHandle{client: b.client, key: b.bucket + "/" + name}
}

type mockObjectHandle struct {
	client *mockGCSClient
	key    string
}

func (o *mockObjectHandle) NewReader(_ context.Context) (io.ReadCloser, error) {
	o.client.Lock()
	defer o.client.Unlock()
	o.client.opened++
	if o.client.openErr != nil {
		return nil, o.client.openErr
	}
	data, ok := o.client.objects[o.key]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// --- Tests ---

func TestNewGCSBlobSource_Validation(t *testing.T) {
	_, err := NewGCSBlobSource(nil, "b", "o", zerolog.Nop())
	assert.Error(t, err)
	_, err = NewGCSBlobSource(newMockGCSClient(), "", "o", zerolog.Nop())
	assert.Error(t, err)
	_, err = NewGCSBlobSource(newMockGCSClient(), "b", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestGCSBlobSource_Next(t *testing.T) {
	client := newMockGCSClient()
	client.objects["input-bucket/batches/run-1.json"] = []byte(`[
		{"messageId": "1", "body": "{\"metadata\":{},\"data\":{}}", "partitionKey": "p"},
		{"messageId": "2", "body": "{\"metadata\":{},\"data\":{}}"}
	]`)

	src, err := NewGCSBlobSource(client, "input-bucket", "batches/run-1.json", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, KindBlob, src.Kind())

	batch, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, "1", batch.Messages[0].ID)
	assert.Equal(t, "p", batch.Messages[0].PartitionKey)
	assert.Equal(t, `{"metadata":{},"data":{}}`, string(batch.Messages[0].Body))

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, client.opened, "the blob is fetched exactly once")
	assert.NoError(t, src.Close())
}

func TestGCSBlobSource_MissingObject(t *testing.T) {
	src, err := NewGCSBlobSource(newMockGCSClient(), "input-bucket", "missing.json", zerolog.Nop())
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrMalformedBatch)
}

func TestGCSBlobSource_OpenError(t *testing.T) {
	client := newMockGCSClient()
	client.openErr = errors.New("connection reset")
	src, err := NewGCSBlobSource(client, "input-bucket", "x.json", zerolog.Nop())
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedBatch)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGCSBlobSource_MalformedDocument(t *testing.T) {
	client := newMockGCSClient()
	client.objects["input-bucket/bad.json"] = []byte(`{not json`)
	src, err := NewGCSBlobSource(client, "input-bucket", "bad.json", zerolog.Nop())
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrMalformedBatch)
}

func TestGCSBlobSource_BadRecordStaysInBatch(t *testing.T) {
	client := newMockGCSClient()
	client.objects["input-bucket/mixed.json"] = []byte(`{"callbackToken": "tok-9", "records": [
		{"messageId": "m-1", "body": "{\"metadata\":{},\"data\":{}}"},
		{"messageId": "m-2", "body": "{\"metadata\":{},\"data\":{}}"},
		{"messageId": "m-3"},
		{"messageId": "m-4", "body": "{\"metadata\":{},\"data\":{}}"},
		{"messageId": "m-5", "body": "{\"metadata\":{},\"data\":{}}"}
	]}`)
	src, err := NewGCSBlobSource(client, "input-bucket", "mixed.json", zerolog.Nop())
	require.NoError(t, err)

	batch, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, batch.Len())
	assert.Equal(t, "tok-9", string(batch.Token))
	assert.Equal(t, "m-3", batch.Messages[2].ID)
	assert.JSONEq(t, `{"messageId": "m-3"}`, string(batch.Messages[2].Body))
	assert.Equal(t, "m-5", batch.Messages[4].ID)
}
