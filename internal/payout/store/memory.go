package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"kinledger/internal/payout/models"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
)

// InMemory keeps payouts and jobs in maps. Writes register undo steps with
// the transaction journal in ctx.
type InMemory struct {
	mu      sync.RWMutex
	payouts map[id.PayoutID]*models.Payout
	jobs    map[id.JobID]*models.Job
}

func NewInMemory() *InMemory {
	return &InMemory{
		payouts: make(map[id.PayoutID]*models.Payout),
		jobs:    make(map[id.JobID]*models.Job),
	}
}

func clonePayout(p *models.Payout) *models.Payout {
	cp := *p
	return &cp
}

func cloneJob(j *models.Job) *models.Job {
	cp := *j
	return &cp
}

func (s *InMemory) putPayout(ctx context.Context, p *models.Payout) {
	prev, existed := s.payouts[p.ID]
	s.payouts[p.ID] = clonePayout(p)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.payouts[p.ID] = prev
		} else {
			delete(s.payouts, p.ID)
		}
	})
}

func (s *InMemory) putJob(ctx context.Context, j *models.Job) {
	prev, existed := s.jobs[j.ID]
	s.jobs[j.ID] = cloneJob(j)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existed {
			s.jobs[j.ID] = prev
		} else {
			delete(s.jobs, j.ID)
		}
	})
}

// CreatePayout enforces one live payout per request and unique external ids.
func (s *InMemory) CreatePayout(ctx context.Context, p *models.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payouts[p.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	for _, existing := range s.payouts {
		if existing.RequestID == p.RequestID && existing.Status != models.StatusCancelled {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.putPayout(ctx, p)
	return nil
}

func (s *InMemory) FindPayout(_ context.Context, payoutID id.PayoutID) (*models.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[payoutID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clonePayout(p), nil
}

// LockPayout is FindPayout; the memory runner already serializes writers.
func (s *InMemory) LockPayout(ctx context.Context, payoutID id.PayoutID) (*models.Payout, error) {
	return s.FindPayout(ctx, payoutID)
}

func (s *InMemory) UpdatePayout(ctx context.Context, p *models.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payouts[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	if p.ExternalTransactionID != "" {
		for _, other := range s.payouts {
			if other.ID != p.ID && other.ExternalTransactionID == p.ExternalTransactionID {
				return sentinel.ErrConflict
			}
		}
	}
	s.putPayout(ctx, p)
	return nil
}

func (s *InMemory) FindLiveByRequest(_ context.Context, requestID id.RequestID) (*models.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payouts {
		if p.RequestID == requestID && p.Status != models.StatusCancelled {
			return clonePayout(p), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByExternalID(_ context.Context, externalID string) (*models.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payouts {
		if externalID != "" && p.ExternalTransactionID == externalID {
			return clonePayout(p), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListPayouts(_ context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Payout
	for _, p := range s.payouts {
		if p.HouseholdID == householdID && filter.Matches(p) {
			out = append(out, clonePayout(p))
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

// ListUnconfirmed returns pending or processing payouts created before cutoff
// that have not been flagged yet, oldest first.
func (s *InMemory) ListUnconfirmed(_ context.Context, cutoff time.Time, limit int) ([]*models.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Payout
	for _, p := range s.payouts {
		if (p.Status == models.StatusPending || p.Status == models.StatusProcessing) &&
			p.ConfirmationAlertedAt == nil && p.CreatedAt.Before(cutoff) {
			out = append(out, clonePayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) InsertJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.RequestID == j.RequestID && existing.Status == models.JobQueued {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.putJob(ctx, j)
	return nil
}

func (s *InMemory) FindQueuedJob(_ context.Context, requestID id.RequestID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.RequestID == requestID && j.Status == models.JobQueued {
			return cloneJob(j), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindJob(_ context.Context, jobID id.JobID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *InMemory) UpdateJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.putJob(ctx, j)
	return nil
}

// DueJobs returns queued jobs whose run_at has passed, earliest first.
func (s *InMemory) DueJobs(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return s.jobsWhere(limit, func(j *models.Job) bool {
		return j.Status == models.JobQueued && !j.RunAt.After(now)
	}), nil
}

// UnscheduledJobs returns queued jobs still waiting for their run_at that the
// scheduler has not marked yet.
func (s *InMemory) UnscheduledJobs(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return s.jobsWhere(limit, func(j *models.Job) bool {
		return j.Status == models.JobQueued && !j.Scheduled && j.RunAt.After(now)
	}), nil
}

func (s *InMemory) jobsWhere(limit int, keep func(*models.Job) bool) []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].RunAt.Before(out[k].RunAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
