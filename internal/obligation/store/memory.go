package store

import (
	"context"
	"sort"
	"sync"

	"kinledger/internal/obligation/models"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
)

// InMemory keeps requests and their approvals in maps. The memory tx runner
// serializes transactions; the mutex only guards the maps themselves.
type InMemory struct {
	mu        sync.RWMutex
	requests  map[id.RequestID]*models.Request
	approvals map[id.RequestID][]*models.Approval
}

func NewInMemory() *InMemory {
	return &InMemory{
		requests:  make(map[id.RequestID]*models.Request),
		approvals: make(map[id.RequestID][]*models.Approval),
	}
}

func clone(r *models.Request) *models.Request {
	cp := *r
	if r.PayoutSnapshot != nil {
		snap := *r.PayoutSnapshot
		cp.PayoutSnapshot = &snap
	}
	return &cp
}

func (s *InMemory) set(ctx context.Context, r *models.Request) {
	prev, existed := s.requests[r.ID]
	s.requests[r.ID] = clone(r)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.requests[r.ID] = prev
		} else {
			delete(s.requests, r.ID)
		}
	})
}

func (s *InMemory) Create(ctx context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.set(ctx, r)
	return nil
}

func (s *InMemory) Find(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

// Execute validates and mutates a request atomically. A validate error leaves
// the stored request untouched and is returned as is.
func (s *InMemory) Execute(ctx context.Context, requestID id.RequestID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	r := clone(stored)
	if err := validate(r); err != nil {
		return r, err
	}
	mutate(r)
	s.set(ctx, r)
	return clone(r), nil
}

func (s *InMemory) List(_ context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Request
	for _, r := range s.requests {
		if r.HouseholdID == householdID && filter.Matches(r) {
			out = append(out, clone(r))
		}
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

func (s *InMemory) InsertApproval(ctx context.Context, a *models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.approvals[a.RequestID] = append(s.approvals[a.RequestID], &cp)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.approvals[cp.RequestID]
		for i, v := range list {
			if v.ID == cp.ID {
				s.approvals[cp.RequestID] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *InMemory) ListApprovals(_ context.Context, requestID id.RequestID) ([]*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Approval, 0, len(s.approvals[requestID]))
	for _, a := range s.approvals[requestID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// CountByStatus returns how many of the household's requests are in status.
func (s *InMemory) CountByStatus(_ context.Context, householdID id.HouseholdID, status models.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.requests {
		if r.HouseholdID == householdID && r.Status == status {
			n++
		}
	}
	return n, nil
}
