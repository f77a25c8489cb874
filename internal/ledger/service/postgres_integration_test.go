//go:build integration

package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	hhservice "kinledger/internal/household/service"
	hhstore "kinledger/internal/household/store"
	"kinledger/internal/ledger/models"
	"kinledger/internal/ledger/service"
	ledgerstore "kinledger/internal/ledger/store"
	"kinledger/internal/platform/postgres"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/testutil/containers"
)

type LedgerPostgresSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	ledger *service.Service
	owner  id.Actor
	ctx    context.Context
}

func TestLedgerPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerPostgresSuite))
}

func (s *LedgerPostgresSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.ctx = context.Background()
}

func (s *LedgerPostgresSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "households", "ledger_transactions", "balance_projections"))

	tx := postgres.NewTxRunner(s.pg.DB, 5)
	store := ledgerstore.NewPostgres(s.pg.DB)
	households := hhservice.New(hhstore.NewPostgres(s.pg.DB), tx, service.New(store, tx))
	s.ledger = service.New(store, tx, service.WithCurrencyLookup(households))

	me, err := households.Provision(s.ctx, hhservice.ProvisionCommand{
		HouseholdName: "Eze family",
		Currency:      "NGN",
		OwnerEmail:    "ngozi@example.com",
		OwnerName:     "Ngozi Eze",
	})
	s.Require().NoError(err)
	s.owner = me.Profile.Actor()
}

// debit retries CONFLICT the way an API client would after a lost
// serialization race.
func (s *LedgerPostgresSuite) debit(amount int64) (*models.Transaction, error) {
	for {
		t, err := s.ledger.RecordPending(s.ctx, models.Entry{
			HouseholdID: s.owner.HouseholdID,
			AmountCents: amount,
			Direction:   models.DirectionOut,
			Type:        models.TypePayout,
			Description: "payout",
		})
		if !dErrors.HasCode(err, dErrors.CodeConflict) {
			return t, err
		}
	}
}

func (s *LedgerPostgresSuite) TestConcurrentDebitsNeverOverdraw() {
	_, err := s.ledger.Record(s.ctx, models.Entry{
		HouseholdID: s.owner.HouseholdID,
		AmountCents: 10_000,
		Direction:   models.DirectionIn,
		Type:        models.TypeFunding,
		Description: "funding",
	})
	s.Require().NoError(err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int
		rejected   int
		unexpected []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.debit(1_000)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case dErrors.HasCode(err, dErrors.CodeInsufficientBalance):
				rejected++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	s.Empty(unexpected)
	s.Equal(10, accepted)
	s.Equal(10, rejected)

	b, err := s.ledger.Balance(s.ctx, s.owner.HouseholdID)
	s.Require().NoError(err)
	s.Equal(int64(10_000), b.BalanceCents)
	s.Zero(b.AvailableCents)
	s.Equal(int64(10_000), b.PendingOutCents)
	s.Equal("NGN", b.Currency)

	report, err := s.ledger.Verify(s.ctx, s.owner.HouseholdID)
	s.Require().NoError(err)
	s.True(report.Consistent)
}

func (s *LedgerPostgresSuite) TestFinalizeAndReverse() {
	_, err := s.ledger.Record(s.ctx, models.Entry{
		HouseholdID: s.owner.HouseholdID,
		AmountCents: 5_000,
		Direction:   models.DirectionIn,
		Type:        models.TypeFunding,
		Description: "funding",
	})
	s.Require().NoError(err)

	t, err := s.debit(2_000)
	s.Require().NoError(err)
	_, err = s.ledger.Finalize(s.ctx, t.ID, models.StatusCompleted)
	s.Require().NoError(err)

	_, err = s.ledger.Reverse(s.ctx, t.ID, "returned by bank")
	s.Require().NoError(err)

	s.Run("second reversal is refused", func() {
		_, err := s.ledger.Reverse(s.ctx, t.ID, "again")
		s.Error(err)
	})

	b, err := s.ledger.Balance(s.ctx, s.owner.HouseholdID)
	s.Require().NoError(err)
	s.Equal(int64(5_000), b.BalanceCents)

	report, err := s.ledger.Verify(s.ctx, s.owner.HouseholdID)
	s.Require().NoError(err)
	s.True(report.Consistent)
}
