// Package overview assembles the dashboard read model: balance, requests
// waiting on a decision, and recent activity.
package overview

import (
	"context"

	"golang.org/x/sync/errgroup"

	ledgermodels "kinledger/internal/ledger/models"
	obmodels "kinledger/internal/obligation/models"
	id "kinledger/pkg/domain"
)

const recentLimit = 5

type Ledger interface {
	Balance(ctx context.Context, householdID id.HouseholdID) (*ledgermodels.Balance, error)
	List(ctx context.Context, householdID id.HouseholdID, filter ledgermodels.Filter) ([]*ledgermodels.Transaction, string, bool, error)
}

type Requests interface {
	List(ctx context.Context, actor id.Actor, filter obmodels.Filter) ([]*obmodels.Request, string, bool, error)
}

type Overview struct {
	Balance            *ledgermodels.Balance       `json:"balance"`
	PendingRequests    []*obmodels.Request         `json:"pending_requests"`
	RecentRequests     []*obmodels.Request         `json:"recent_requests"`
	RecentTransactions []*ledgermodels.Transaction `json:"recent_transactions"`
}

type Service struct {
	ledger   Ledger
	requests Requests
}

func NewService(ledger Ledger, requests Requests) *Service {
	return &Service{ledger: ledger, requests: requests}
}

// Get reads the four sections concurrently. Each section is a separate
// read, so the view is not a single snapshot.
func (s *Service) Get(ctx context.Context, actor id.Actor) (*Overview, error) {
	out := &Overview{
		PendingRequests:    []*obmodels.Request{},
		RecentRequests:     []*obmodels.Request{},
		RecentTransactions: []*ledgermodels.Transaction{},
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.ledger.Balance(ctx, actor.HouseholdID)
		out.Balance = b
		return err
	})
	g.Go(func() error {
		items, _, _, err := s.requests.List(ctx, actor, obmodels.Filter{Status: obmodels.StatusPending, Limit: recentLimit})
		if items != nil {
			out.PendingRequests = items
		}
		return err
	})
	g.Go(func() error {
		items, _, _, err := s.requests.List(ctx, actor, obmodels.Filter{Limit: recentLimit})
		if items != nil {
			out.RecentRequests = items
		}
		return err
	})
	g.Go(func() error {
		items, _, _, err := s.ledger.List(ctx, actor.HouseholdID, ledgermodels.Filter{Limit: recentLimit})
		if items != nil {
			out.RecentTransactions = items
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
