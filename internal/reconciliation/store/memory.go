package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"kinledger/internal/reconciliation/models"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
)

type eventKey struct {
	provider string
	eventID  string
}

// InMemory keeps processed events and orphans in maps, undone on rollback.
type InMemory struct {
	mu        sync.RWMutex
	processed map[eventKey]*models.ProcessedEvent
	orphans   map[id.OrphanID]*models.Orphan
}

func NewInMemory() *InMemory {
	return &InMemory{
		processed: make(map[eventKey]*models.ProcessedEvent),
		orphans:   make(map[id.OrphanID]*models.Orphan),
	}
}

func cloneOrphan(o *models.Orphan) *models.Orphan {
	cp := *o
	return &cp
}

func (s *InMemory) FindProcessed(_ context.Context, provider, eventID string) (*models.ProcessedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processed[eventKey{provider, eventID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) InsertProcessed(ctx context.Context, p *models.ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventKey{p.Provider, p.EventID}
	if _, ok := s.processed[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	cp := *p
	s.processed[key] = &cp
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.processed, key)
	})
	return nil
}

func (s *InMemory) putOrphan(ctx context.Context, o *models.Orphan) {
	prev, existed := s.orphans[o.ID]
	s.orphans[o.ID] = cloneOrphan(o)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.orphans[o.ID] = prev
		} else {
			delete(s.orphans, o.ID)
		}
	})
}

func (s *InMemory) InsertOrphan(ctx context.Context, o *models.Orphan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orphans {
		if existing.Provider == o.Provider && existing.EventID == o.EventID {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.putOrphan(ctx, o)
	return nil
}

func (s *InMemory) UpdateOrphan(ctx context.Context, o *models.Orphan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orphans[o.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.putOrphan(ctx, o)
	return nil
}

// PendingOrphans returns the pending payout orphans for either key, oldest
// first.
func (s *InMemory) PendingOrphans(_ context.Context, reference, externalID string) ([]*models.Orphan, error) {
	return s.where(0, func(o *models.Orphan) bool {
		return o.Status == models.OrphanPending && o.Matches(reference, externalID)
	}), nil
}

func (s *InMemory) ExpiredOrphans(_ context.Context, now time.Time, limit int) ([]*models.Orphan, error) {
	return s.where(limit, func(o *models.Orphan) bool {
		return o.Status == models.OrphanPending && !o.ExpiresAt.After(now)
	}), nil
}

func (s *InMemory) ListOrphans(_ context.Context, status models.OrphanStatus, limit int) ([]*models.Orphan, error) {
	return s.where(limit, func(o *models.Orphan) bool {
		return status == "" || o.Status == status
	}), nil
}

func (s *InMemory) where(limit int, keep func(*models.Orphan) bool) []*models.Orphan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Orphan
	for _, o := range s.orphans {
		if keep(o) {
			out = append(out, cloneOrphan(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
