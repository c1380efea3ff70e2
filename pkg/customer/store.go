package customer

import (
	"context"
	"sync"
)

// Store persists customer records. Upsert must be idempotent per CustomerID.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
}

// MemoryStore keeps records in a map. It is used in tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	writes  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.CustomerID] = rec
	s.writes++
	return nil
}

// Get returns the record for id.
func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of distinct customers stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Writes returns the number of upserts, including repeats.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
