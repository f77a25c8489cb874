//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kinledger/internal/platform/postgres"
	"kinledger/internal/reconciliation/models"
	"kinledger/internal/reconciliation/store"
	"kinledger/pkg/platform/sentinel"
	"kinledger/pkg/testutil/containers"
)

type ReconciliationPostgresSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
	tx    *postgres.TxRunner
	ctx   context.Context
	now   time.Time
}

func TestReconciliationPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ReconciliationPostgresSuite))
}

func (s *ReconciliationPostgresSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.ctx = context.Background()
	s.store = store.NewPostgres(s.pg.DB)
	s.tx = postgres.NewTxRunner(s.pg.DB, 3)
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
}

func (s *ReconciliationPostgresSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "processed_events", "reconciliation_orphans"))
}

func (s *ReconciliationPostgresSuite) event(eventID, ref, extID string, outcome models.Outcome) models.Event {
	return models.Event{
		Provider:          "flutterwave",
		EventID:           eventID,
		Type:              "transfer.completed",
		Target:            models.TargetPayout,
		Outcome:           outcome,
		Reference:         ref,
		ExternalReference: extID,
	}
}

func (s *ReconciliationPostgresSuite) TestProcessedEventsAreUnique() {
	p := &models.ProcessedEvent{
		Provider:    "stripe",
		EventID:     "evt_1",
		Disposition: models.DispositionApplied,
		TargetID:    "sub_1",
		ProcessedAt: s.now,
	}
	s.Require().NoError(s.store.InsertProcessed(s.ctx, p))

	err := s.store.InsertProcessed(s.ctx, p)
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed))

	found, err := s.store.FindProcessed(s.ctx, "stripe", "evt_1")
	s.Require().NoError(err)
	s.Equal(models.DispositionApplied, found.Disposition)
	s.Equal("sub_1", found.TargetID)

	_, err = s.store.FindProcessed(s.ctx, "flutterwave", "evt_1")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *ReconciliationPostgresSuite) TestOrphanLifecycle() {
	early := models.NewOrphan(s.event("e1", "", "fw-1", models.OutcomeReversed), "reversal arrived before completion", s.now, time.Hour)
	other := models.NewOrphan(s.event("e2", "ref-2", "", models.OutcomeCompleted), "no matching payout", s.now.Add(time.Minute), 72*time.Hour)
	s.Require().NoError(s.store.InsertOrphan(s.ctx, early))
	s.Require().NoError(s.store.InsertOrphan(s.ctx, other))

	s.Run("pending by external id", func() {
		err := s.tx.RunInTx(s.ctx, func(ctx context.Context) error {
			got, err := s.store.PendingOrphans(ctx, "unrelated", "fw-1")
			if err != nil {
				return err
			}
			s.Require().Len(got, 1)
			s.Equal(early.ID, got[0].ID)
			s.Equal(models.OutcomeReversed, got[0].Event.Outcome)
			return nil
		})
		s.Require().NoError(err)
	})

	s.Run("expired orphans", func() {
		err := s.tx.RunInTx(s.ctx, func(ctx context.Context) error {
			got, err := s.store.ExpiredOrphans(ctx, s.now.Add(2*time.Hour), 10)
			if err != nil {
				return err
			}
			s.Require().Len(got, 1)
			s.Equal(early.ID, got[0].ID)
			got[0].Close(models.OrphanExpired, s.now.Add(2*time.Hour))
			return s.store.UpdateOrphan(ctx, got[0])
		})
		s.Require().NoError(err)
	})

	s.Run("list by status", func() {
		expired, err := s.store.ListOrphans(s.ctx, models.OrphanExpired, 10)
		s.Require().NoError(err)
		s.Require().Len(expired, 1)
		s.NotNil(expired[0].ResolvedAt)

		all, err := s.store.ListOrphans(s.ctx, "", 10)
		s.Require().NoError(err)
		s.Len(all, 2)
	})
}
