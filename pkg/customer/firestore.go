package customer

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
)

// DefaultCollection is used when no collection is configured.
const DefaultCollection = "customers"

// FirestoreConfig holds configuration for the Firestore customer store.
type FirestoreConfig struct {
	ProjectID      string `yaml:"project_id"`
	CollectionName string `yaml:"collection"`
}

// FirestoreStore writes one document per customer, keyed by CustomerID, so
// reprocessing a message overwrites rather than duplicates.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a store using an injected client. The caller owns the client.
func NewFirestoreStore(client *firestore.Client, cfg *FirestoreConfig, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = DefaultCollection
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", collection).Msg("FirestoreStore initialized successfully with provided client")
	return &FirestoreStore{
		client:         client,
		collectionName: collection,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Upsert writes rec. gRPC errors are wrapped so callers can inspect their status.
func (s *FirestoreStore) Upsert(ctx context.Context, rec Record) error {
	if rec.CustomerID == "" {
		return errors.New("customer id is required")
	}
	_, err := s.client.Collection(s.collectionName).Doc(rec.CustomerID).Set(ctx, rec)
	if err != nil {
		s.logger.Error().Err(err).Str("customer_id", rec.CustomerID).Msg("Failed to write customer document to Firestore")
		return fmt.Errorf("firestore Set for %s: %w", rec.CustomerID, err)
	}
	s.logger.Debug().Str("customer_id", rec.CustomerID).Msg("Customer document written")
	return nil
}
