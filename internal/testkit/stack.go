// Package testkit assembles the in-memory service graph used by tests that
// cross package boundaries: households, ledger, requests, payouts and the
// outbox, all sharing one memory transaction runner.
package testkit

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	hhmodels "kinledger/internal/household/models"
	hhservice "kinledger/internal/household/service"
	hhstore "kinledger/internal/household/store"
	"kinledger/internal/idempotency"
	idemstore "kinledger/internal/idempotency/store"
	ledgermodels "kinledger/internal/ledger/models"
	ledgerservice "kinledger/internal/ledger/service"
	ledgerstore "kinledger/internal/ledger/store"
	obmodels "kinledger/internal/obligation/models"
	observice "kinledger/internal/obligation/service"
	obstore "kinledger/internal/obligation/store"
	"kinledger/internal/outbox"
	outboxstore "kinledger/internal/outbox/store"
	"kinledger/internal/payout/rail"
	payoutservice "kinledger/internal/payout/service"
	payoutstore "kinledger/internal/payout/store"
	id "kinledger/pkg/domain"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
)

// Stack is a fully wired in-memory service graph with one household, its
// owner, a dependent member and a kin member who can be paid.
type Stack struct {
	T           *testing.T
	Ctx         context.Context
	Now         time.Time
	Logger      *slog.Logger
	Tx          *txcontext.MemoryRunner
	Idempotency *idempotency.Service
	Outbox      *outboxstore.InMemory
	Events      *outbox.Writer

	Households   *hhservice.Service
	Ledger       *ledgerservice.Service
	LedgerStore  *ledgerstore.InMemory
	Obligations  *observice.Service
	Payouts      *payoutservice.Service
	PayoutStore  *payoutstore.InMemory
	Dispatcher   *rail.Dispatcher
	Owner        id.Actor
	Member       id.Actor
	KinID        id.KinID
	nextKeyIndex int
}

// Option adjusts the stack before it is assembled.
type Option func(*config)

type config struct {
	rail rail.Rail
}

// WithRail dispatches payouts through r instead of the sandbox rail.
func WithRail(r rail.Rail) Option {
	return func(c *config) { c.rail = r }
}

func NewStack(t *testing.T, opts ...Option) *Stack {
	t.Helper()
	cfg := &config{rail: rail.NewSandbox()}
	for _, opt := range opts {
		opt(cfg)
	}

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s := &Stack{
		T:           t,
		Now:         now,
		Ctx:         requestcontext.WithTime(context.Background(), now),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tx:          txcontext.NewMemoryRunner(),
		Idempotency: idempotency.NewService(idemstore.NewInMemory()),
		Outbox:      outboxstore.NewInMemory(),
		LedgerStore: ledgerstore.NewInMemory(),
		PayoutStore: payoutstore.NewInMemory(),
	}
	s.Events = outbox.NewWriter(s.Outbox, "kinledger.events", "kinledger.alerts")

	// households only ask the ledger whether entries exist
	inspector := ledgerservice.New(s.LedgerStore, s.Tx)
	s.Households = hhservice.New(hhstore.NewInMemory(), s.Tx, inspector, hhservice.WithLogger(s.Logger))
	s.Ledger = ledgerservice.New(s.LedgerStore, s.Tx,
		ledgerservice.WithLogger(s.Logger),
		ledgerservice.WithIdempotency(s.Idempotency),
		ledgerservice.WithCurrencyLookup(s.Households),
	)

	s.Obligations = observice.New(obstore.NewInMemory(), s.Tx, s.Households,
		payoutservice.NewJobQueue(s.PayoutStore), s.Idempotency,
		observice.WithLogger(s.Logger),
		observice.WithEvents(s.Events),
		observice.WithApprovalGrace(time.Minute),
	)
	s.Dispatcher = rail.NewDispatcher(cfg.rail, rail.DispatcherConfig{
		Timeout:         time.Second,
		MaxAttempts:     2,
		InitialBackoff:  time.Millisecond,
		BreakerFailures: 100,
		BreakerTimeout:  time.Minute,
	}, rail.WithDispatcherLogger(s.Logger))
	s.Payouts = payoutservice.New(s.PayoutStore, s.Tx, s.Ledger, s.Obligations, s.Households,
		s.Dispatcher, s.Idempotency,
		payoutservice.WithLogger(s.Logger),
		payoutservice.WithEvents(s.Events),
	)

	s.provision()
	return s
}

func (s *Stack) provision() {
	me, err := s.Households.Provision(s.Ctx, hhservice.ProvisionCommand{
		HouseholdName: "Okafor family",
		Currency:      "NGN",
		OwnerEmail:    "ada@example.com",
		OwnerName:     "Ada Okafor",
	})
	require.NoError(s.T, err)
	s.Owner = me.Profile.Actor()

	member, err := s.Households.AddProfile(s.Ctx, s.Owner.HouseholdID, "chidi@example.com", "Chidi Okafor", id.RoleDependent)
	require.NoError(s.T, err)
	s.Member = member.Actor()

	_, err = s.Households.PutPrimaryAccount(s.Ctx, s.Member, hhservice.PrimaryAccountInput{
		AccountName:   "Chidi Okafor",
		AccountNumber: "0690000031",
		BankCode:      "044",
		BankName:      "Access Bank",
	})
	require.NoError(s.T, err)

	kin, err := s.Households.CreateKin(s.Ctx, s.Owner, hhservice.CreateKinCommand{
		DisplayName:     "Chidi",
		Relationship:    hhmodels.RelationshipChild,
		LinkedProfileID: &s.Member.ProfileID,
	})
	require.NoError(s.T, err)
	s.KinID = kin.ID
}

// Key returns a fresh idempotency key.
func (s *Stack) Key() string {
	s.nextKeyIndex++
	return "key-" + strconv.Itoa(s.nextKeyIndex)
}

// Fund credits the household with a completed funding entry.
func (s *Stack) Fund(amount int64) {
	s.T.Helper()
	_, err := s.Ledger.Record(s.Ctx, ledgermodels.Entry{
		HouseholdID: s.Owner.HouseholdID,
		AmountCents: amount,
		Direction:   ledgermodels.DirectionIn,
		Type:        ledgermodels.TypeFunding,
		Description: "test funding",
	})
	require.NoError(s.T, err)
}

// ApprovedRequest creates a request from the dependent member and approves it.
func (s *Stack) ApprovedRequest(amount int64, mutate ...func(*observice.CreateCommand)) *obmodels.Request {
	s.T.Helper()
	cmd := observice.CreateCommand{
		Actor:          s.Member,
		KinID:          s.KinID,
		Title:          "School fees",
		AmountCents:    amount,
		IdempotencyKey: s.Key(),
	}
	for _, m := range mutate {
		m(&cmd)
	}
	r, err := s.Obligations.Create(s.Ctx, cmd)
	require.NoError(s.T, err)
	r, err = s.Obligations.Approve(s.Ctx, observice.DecisionCommand{Actor: s.Owner, RequestID: r.ID, IdempotencyKey: s.Key()})
	require.NoError(s.T, err)
	return r
}

// ExecuteCommand pays out r in full under key.
func (s *Stack) ExecuteCommand(r *obmodels.Request, key string) payoutservice.ExecuteCommand {
	return payoutservice.ExecuteCommand{
		Actor:          s.Owner,
		RequestID:      r.ID,
		KinID:          r.KinID,
		AmountCents:    r.AmountCents,
		IdempotencyKey: key,
	}
}

// Balance returns the household's current balance.
func (s *Stack) Balance() *ledgermodels.Balance {
	s.T.Helper()
	b, err := s.Ledger.Balance(s.Ctx, s.Owner.HouseholdID)
	require.NoError(s.T, err)
	return b
}

// Request reloads a request.
func (s *Stack) Request(requestID id.RequestID) *obmodels.Request {
	s.T.Helper()
	r, err := s.Obligations.Find(s.Ctx, s.Owner.HouseholdID, requestID)
	require.NoError(s.T, err)
	return r
}

// Verify asserts that the stored projection matches the entries.
func (s *Stack) Verify() {
	s.T.Helper()
	report, err := s.Ledger.Verify(s.Ctx, s.Owner.HouseholdID)
	require.NoError(s.T, err)
	require.True(s.T, report.Consistent, "projection drifted from entries")
}

// EventTypes lists the outbox event types written so far, oldest first.
func (s *Stack) EventTypes() []string {
	var out []string
	for _, m := range s.Outbox.Messages() {
		out = append(out, m.EventType)
	}
	return out
}
