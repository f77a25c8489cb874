package store

import (
	"context"
	"sort"
	"sync"

	"kinledger/internal/ledger/models"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
)

// InMemory keeps ledger entries and projections in maps. Row locks are
// provided by the memory transaction runner, which serialises transactions.
type InMemory struct {
	mu           sync.RWMutex
	transactions map[id.TransactionID]*models.Transaction
	reversals    map[id.TransactionID]id.TransactionID
	projections  map[id.HouseholdID]*models.Projection
}

func NewInMemory() *InMemory {
	return &InMemory{
		transactions: make(map[id.TransactionID]*models.Transaction),
		reversals:    make(map[id.TransactionID]id.TransactionID),
		projections:  make(map[id.HouseholdID]*models.Projection),
	}
}

func (s *InMemory) LockProjection(ctx context.Context, householdID id.HouseholdID) (*models.Projection, error) {
	return s.GetProjection(ctx, householdID)
}

func (s *InMemory) GetProjection(_ context.Context, householdID id.HouseholdID) (*models.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.projections[householdID]; ok {
		cp := *p
		return &cp, nil
	}
	return &models.Projection{HouseholdID: householdID}, nil
}

func (s *InMemory) SaveProjection(ctx context.Context, p *models.Projection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.projections[p.HouseholdID]
	cp := *p
	s.projections[p.HouseholdID] = &cp
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.projections[p.HouseholdID] = prev
		} else {
			delete(s.projections, p.HouseholdID)
		}
	})
	return nil
}

func (s *InMemory) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[t.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if t.ReversalOf != nil {
		if _, exists := s.reversals[*t.ReversalOf]; exists {
			return sentinel.ErrAlreadyUsed
		}
		s.reversals[*t.ReversalOf] = t.ID
	}
	cp := *t
	s.transactions[t.ID] = &cp
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.transactions, t.ID)
		if t.ReversalOf != nil {
			delete(s.reversals, *t.ReversalOf)
		}
	})
	return nil
}

func (s *InMemory) LockTransaction(ctx context.Context, txID id.TransactionID) (*models.Transaction, error) {
	return s.FindTransaction(ctx, txID)
}

func (s *InMemory) FindTransaction(_ context.Context, txID id.TransactionID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[txID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemory) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.transactions[t.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := *t
	s.transactions[t.ID] = &cp
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		s.transactions[t.ID] = prev
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemory) FindReversal(ctx context.Context, originalID id.TransactionID) (*models.Transaction, error) {
	s.mu.RLock()
	revID, ok := s.reversals[originalID]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.FindTransaction(ctx, revID)
}

func (s *InMemory) ListTransactions(_ context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Transaction
	for _, t := range s.transactions {
		if t.HouseholdID != householdID || !filter.Matches(t) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemory) Totals(_ context.Context, householdID id.HouseholdID) (*models.Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := &models.Projection{HouseholdID: householdID}
	for _, t := range s.transactions {
		if t.HouseholdID != householdID {
			continue
		}
		accumulate(p, t)
	}
	return p, nil
}

func (s *InMemory) HasEntries(_ context.Context, householdID id.HouseholdID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.HouseholdID == householdID {
			return true, nil
		}
	}
	return false, nil
}

func accumulate(p *models.Projection, t *models.Transaction) {
	switch {
	case t.Status == models.StatusCompleted && t.Direction == models.DirectionIn:
		p.CompletedIn += t.AmountCents
	case t.Status == models.StatusCompleted && t.Direction == models.DirectionOut:
		p.CompletedOut += t.AmountCents
	case t.Status == models.StatusPending && t.Direction == models.DirectionIn:
		p.PendingIn += t.AmountCents
	case t.Status == models.StatusPending && t.Direction == models.DirectionOut:
		p.PendingOut += t.AmountCents
	}
}
