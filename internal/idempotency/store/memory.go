package store

import (
	"context"
	"sync"

	"kinledger/internal/idempotency"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
)

type recordKey struct {
	profileID id.ProfileID
	key       string
}

// InMemory is a map-backed idempotency store that participates in memory
// transactions through the rollback journal.
type InMemory struct {
	mu      sync.RWMutex
	records map[recordKey]*idempotency.Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[recordKey]*idempotency.Record)}
}

func (s *InMemory) Find(_ context.Context, profileID id.ProfileID, key string) (*idempotency.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{profileID, key}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemory) Insert(ctx context.Context, rec *idempotency.Record) error {
	k := recordKey{rec.ProfileID, rec.Key}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[k]; exists {
		return sentinel.ErrAlreadyUsed
	}
	cp := *rec
	s.records[k] = &cp
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.records, k)
		s.mu.Unlock()
	})
	return nil
}
