package batchsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
)

// GCSBlobSource reads one object holding a JSON array of records. The object
// is fetched once; later calls to Next return ErrExhausted.
type GCSBlobSource struct {
	noopAcknowledger
	client GCSClient
	bucket string
	object string
	logger zerolog.Logger
	closer func() error

	mu       sync.Mutex
	consumed bool
}

// NewGCSBlobSource creates a blob source for gs://bucket/object.
func NewGCSBlobSource(client GCSClient, bucket, object string, logger zerolog.Logger) (*GCSBlobSource, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if bucket == "" || object == "" {
		return nil, errors.New("GCS bucket and object names are required")
	}
	l := logger.With().Str("component", "GCSBlobSource").Str("bucket", bucket).Str("object_name", object).Logger()
	return &GCSBlobSource{
		noopAcknowledger: noopAcknowledger{logger: l},
		client:           client,
		bucket:           bucket,
		object:           object,
		logger:           l,
	}, nil
}

// Next downloads and parses the object.
func (s *GCSBlobSource) Next(ctx context.Context) (*types.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return nil, ErrExhausted
	}
	s.consumed = true

	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s does not exist", ErrMalformedBatch, s.bucket, s.object)
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, s.object, err)
	}
	defer r.Close()

	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, s.object, err)
	}

	batch, err := parseBatchDocument(doc)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse blob batch.")
		return nil, err
	}
	s.logger.Info().Int("batch_size", batch.Len()).Int("bytes_read", len(doc)).Msg("Blob batch fetched.")
	return batch, nil
}

// Kind implements Source.
func (s *GCSBlobSource) Kind() Kind { return KindBlob }

// Close releases the storage client if the source created it.
func (s *GCSBlobSource) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
