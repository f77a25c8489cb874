package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	hhmodels "kinledger/internal/household/models"
	"kinledger/internal/idempotency"
	idemstore "kinledger/internal/idempotency/store"
	"kinledger/internal/obligation/models"
	"kinledger/internal/obligation/service"
	"kinledger/internal/obligation/store"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
	"kinledger/pkg/testutil"
)

type fakeKin struct {
	members map[id.KinID]*hhmodels.KinMember
}

func (f *fakeKin) ActiveKin(ctx context.Context, householdID id.HouseholdID, kinID id.KinID) (*hhmodels.KinMember, error) {
	k, err := f.FindKin(ctx, householdID, kinID)
	if err != nil || k.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeNotFound, "kin member not found")
	}
	return k, nil
}

func (f *fakeKin) FindKin(_ context.Context, householdID id.HouseholdID, kinID id.KinID) (*hhmodels.KinMember, error) {
	k, ok := f.members[kinID]
	if !ok || k.HouseholdID != householdID {
		return nil, dErrors.New(dErrors.CodeNotFound, "kin member not found")
	}
	return k, nil
}

type enqueued struct {
	requestID id.RequestID
	initiator id.ProfileID
	runAt     time.Time
}

type fakeJobs struct {
	mu        sync.Mutex
	enqueued  []enqueued
	cancelled []id.RequestID
}

func (f *fakeJobs) Enqueue(_ context.Context, r *models.Request, initiator id.ProfileID, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueued{requestID: r.ID, initiator: initiator, runAt: runAt})
	return nil
}

func (f *fakeJobs) CancelForRequest(_ context.Context, requestID id.RequestID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, requestID)
	return nil
}

type recordedEvents struct{ types []string }

func (r *recordedEvents) Emit(_ context.Context, eventType, _ string, _ any) error {
	r.types = append(r.types, eventType)
	return nil
}

type ObligationServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *store.InMemory
	jobs    *fakeJobs
	events  *recordedEvents
	kin     *fakeKin
	service *service.Service
	owner   id.Actor
	member  id.Actor
	kinID   id.KinID
}

func TestObligationServiceSuite(t *testing.T) {
	suite.Run(t, new(ObligationServiceSuite))
}

func (s *ObligationServiceSuite) SetupTest() {
	s.now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.owner = testutil.OwnerActor()
	s.member = testutil.DependentOf(s.owner)
	s.kinID = id.NewKinID()
	deletedKin := id.NewKinID()
	deletedAt := s.now
	s.kin = &fakeKin{members: map[id.KinID]*hhmodels.KinMember{
		s.kinID:    {ID: s.kinID, HouseholdID: s.owner.HouseholdID, DisplayName: "Chidi"},
		deletedKin: {ID: deletedKin, HouseholdID: s.owner.HouseholdID, DeletedAt: &deletedAt},
	}}
	s.store = store.NewInMemory()
	s.jobs = &fakeJobs{}
	s.events = &recordedEvents{}
	s.service = service.New(s.store, txcontext.NewMemoryRunner(), s.kin, s.jobs,
		idempotency.NewService(idemstore.NewInMemory()),
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		service.WithEvents(s.events),
		service.WithApprovalGrace(2*time.Minute),
	)
}

func (s *ObligationServiceSuite) create(actor id.Actor, key string, mutate ...func(*service.CreateCommand)) *models.Request {
	cmd := service.CreateCommand{
		Actor:          actor,
		KinID:          s.kinID,
		Title:          "School fees",
		AmountCents:    5000,
		IdempotencyKey: key,
	}
	for _, m := range mutate {
		m(&cmd)
	}
	r, err := s.service.Create(s.ctx, cmd)
	s.Require().NoError(err)
	return r
}

func (s *ObligationServiceSuite) decide(op func(context.Context, service.DecisionCommand) (*models.Request, error), actor id.Actor, r *models.Request, key string) (*models.Request, error) {
	return op(s.ctx, service.DecisionCommand{Actor: actor, RequestID: r.ID, IdempotencyKey: key})
}

func (s *ObligationServiceSuite) TestCreate() {
	s.Run("dependent request", func() {
		r := s.create(s.member, "create-1")
		s.Equal(models.StatusPending, r.Status)
		s.Equal(models.SourceDependent, r.Source)
		s.Equal(models.PriorityNormal, r.Priority)
		s.Equal(models.AmountFixed, r.AmountType)
		s.Equal(s.member.ProfileID, r.RequesterProfileID)
	})

	s.Run("owner request", func() {
		r := s.create(s.owner, "create-2")
		s.Equal(models.SourceOwner, r.Source)
	})

	s.Run("replay returns the original", func() {
		first := s.create(s.member, "create-3")
		again := s.create(s.member, "create-3")
		s.Equal(first.ID, again.ID)
	})

	s.Run("same key different input", func() {
		s.create(s.member, "create-4")
		_, err := s.service.Create(s.ctx, service.CreateCommand{
			Actor: s.member, KinID: s.kinID, Title: "School fees", AmountCents: 6000, IdempotencyKey: "create-4",
		})
		s.True(dErrors.Is(err, dErrors.CodeIdempotencyConflict))
	})

	s.Run("validation", func() {
		due := s.now.AddDate(0, 0, 3)
		cases := map[string]service.CreateCommand{
			"zero amount":       {Actor: s.member, KinID: s.kinID, Title: "x", IdempotencyKey: "v1"},
			"missing title":     {Actor: s.member, KinID: s.kinID, Title: "  ", AmountCents: 1, IdempotencyKey: "v2"},
			"bad rule":          {Actor: s.member, KinID: s.kinID, Title: "x", AmountCents: 1, RecurrenceRule: "FREQ=HOURLY", DueDate: &due, IdempotencyKey: "v3"},
			"rule without date": {Actor: s.member, KinID: s.kinID, Title: "x", AmountCents: 1, RecurrenceRule: "FREQ=MONTHLY", IdempotencyKey: "v4"},
			"bad priority":      {Actor: s.member, KinID: s.kinID, Title: "x", AmountCents: 1, Priority: "urgent", IdempotencyKey: "v5"},
			"missing key":       {Actor: s.member, KinID: s.kinID, Title: "x", AmountCents: 1},
		}
		for name, cmd := range cases {
			_, err := s.service.Create(s.ctx, cmd)
			s.True(dErrors.Is(err, dErrors.CodeValidation), name)
		}
	})

	s.Run("unknown or deleted kin", func() {
		_, err := s.service.Create(s.ctx, service.CreateCommand{
			Actor: s.member, KinID: id.NewKinID(), Title: "x", AmountCents: 1, IdempotencyKey: "k1",
		})
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("count folds into the series end", func() {
		due := s.now.AddDate(0, 0, 9)
		r := s.create(s.owner, "create-5", func(c *service.CreateCommand) {
			c.DueDate = &due
			c.RecurrenceRule = "FREQ=MONTHLY;COUNT=3"
		})
		s.Require().NotNil(r.RecurrenceEndAt)
		s.Equal(due.AddDate(0, 2, 0), *r.RecurrenceEndAt)
	})
}

func (s *ObligationServiceSuite) TestApprove() {
	r := s.create(s.member, "create-1")

	_, err := s.decide(s.service.Approve, s.member, r, "approve-0")
	s.True(dErrors.Is(err, dErrors.CodeForbidden))

	approved, err := s.decide(s.service.Approve, s.owner, r, "approve-1")
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, approved.Status)

	s.Require().Len(s.jobs.enqueued, 1)
	s.Equal(r.ID, s.jobs.enqueued[0].requestID)
	s.Equal(s.owner.ProfileID, s.jobs.enqueued[0].initiator)
	s.Equal(s.now.Add(2*time.Minute), s.jobs.enqueued[0].runAt)

	detail, err := s.service.Get(s.ctx, s.member, r.ID)
	s.Require().NoError(err)
	s.Require().Len(detail.Approvals, 1)
	s.Equal(s.owner.ProfileID, detail.Approvals[0].ApproverProfileID)

	s.Run("replay does not append another approval", func() {
		again, err := s.decide(s.service.Approve, s.owner, r, "approve-1")
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, again.Status)
		approvals, err := s.service.Approvals(s.ctx, s.owner, r.ID)
		s.Require().NoError(err)
		s.Len(approvals, 1)
		s.Len(s.jobs.enqueued, 1)
	})

	s.Run("second approval with a new key conflicts", func() {
		_, err := s.decide(s.service.Approve, s.owner, r, "approve-2")
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("reject after approve conflicts", func() {
		_, err := s.decide(s.service.Reject, s.owner, r, "reject-1")
		s.True(dErrors.Is(err, dErrors.CodeConflict))
		got, err := s.service.Find(s.ctx, s.owner.HouseholdID, r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, got.Status)
	})
}

func (s *ObligationServiceSuite) TestApproveRunsAtDueDate() {
	due := s.now.AddDate(0, 0, 10)
	r := s.create(s.member, "create-1", func(c *service.CreateCommand) { c.DueDate = &due })
	_, err := s.decide(s.service.Approve, s.owner, r, "approve-1")
	s.Require().NoError(err)
	s.Require().Len(s.jobs.enqueued, 1)
	s.Equal(due, s.jobs.enqueued[0].runAt)
}

func (s *ObligationServiceSuite) TestApproveFromOtherHousehold() {
	r := s.create(s.member, "create-1")
	_, err := s.decide(s.service.Approve, testutil.OwnerActor(), r, "approve-1")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

func (s *ObligationServiceSuite) TestRejectStoresReason() {
	r := s.create(s.member, "create-1")
	rejected, err := s.service.Reject(s.ctx, service.DecisionCommand{
		Actor: s.owner, RequestID: r.ID, Notes: "budget is tight", IdempotencyKey: "reject-1",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, rejected.Status)
	s.Equal("budget is tight", rejected.FailureReason)
	s.Empty(s.jobs.enqueued)

	_, err = s.decide(s.service.Approve, s.owner, r, "approve-1")
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *ObligationServiceSuite) TestConcurrentApproveAndReject() {
	r := s.create(s.member, "create-1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.decide(s.service.Approve, s.owner, r, "approve-1")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.decide(s.service.Reject, s.owner, r, "reject-1")
	}()
	wg.Wait()

	winners, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case dErrors.Is(err, dErrors.CodeConflict):
			conflicts++
		}
	}
	s.Equal(1, winners)
	s.Equal(1, conflicts)
}

func (s *ObligationServiceSuite) TestCancel() {
	s.Run("requester cancels their approved request", func() {
		r := s.create(s.member, "create-1")
		_, err := s.decide(s.service.Approve, s.owner, r, "approve-1")
		s.Require().NoError(err)

		cancelled, err := s.decide(s.service.Cancel, s.member, r, "cancel-1")
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, cancelled.Status)
		s.Contains(s.jobs.cancelled, r.ID)
	})

	s.Run("another dependent may not cancel", func() {
		r := s.create(s.member, "create-2")
		_, err := s.decide(s.service.Cancel, testutil.DependentOf(s.owner), r, "cancel-2")
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("processing requests cannot be cancelled", func() {
		r := s.create(s.member, "create-3")
		_, err := s.decide(s.service.Approve, s.owner, r, "approve-3")
		s.Require().NoError(err)
		_, err = s.service.MarkProcessing(s.ctx, r.ID, models.PayoutSnapshot{PayoutID: id.NewPayoutID()})
		s.Require().NoError(err)

		_, err = s.decide(s.service.Cancel, s.owner, r, "cancel-3")
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})
}

func (s *ObligationServiceSuite) TestPaidPath() {
	r := s.create(s.member, "create-1")
	_, err := s.decide(s.service.Approve, s.owner, r, "approve-1")
	s.Require().NoError(err)

	scheduled, err := s.service.MarkScheduled(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusScheduled, scheduled.Status)

	processing, err := s.service.MarkProcessing(s.ctx, r.ID, models.PayoutSnapshot{KinName: "Chidi", AmountCents: 5000})
	s.Require().NoError(err)
	s.Require().NotNil(processing.PayoutSnapshot)
	s.Equal(s.now, processing.PayoutSnapshot.CapturedAt)

	_, err = s.service.MarkProcessing(s.ctx, r.ID, models.PayoutSnapshot{KinName: "Other"})
	s.True(dErrors.Is(err, dErrors.CodeConflict), "snapshot is written once")

	paid, err := s.service.MarkPaid(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPaid, paid.Status)
	s.Equal("Chidi", paid.PayoutSnapshot.KinName)

	again, err := s.service.MarkPaid(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPaid, again.Status)

	_, err = s.service.MarkFailed(s.ctx, r.ID, "late failure")
	s.True(dErrors.Is(err, dErrors.CodeConflict), "paid requests only fail through reversal")

	reversed, err := s.service.MarkReversed(s.ctx, r.ID, "reversed")
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, reversed.Status)
	s.Equal("reversed", reversed.FailureReason)
}

func (s *ObligationServiceSuite) TestMarkFailedIsRepeatable() {
	r := s.create(s.member, "create-1")
	_, err := s.decide(s.service.Approve, s.owner, r, "approve-1")
	s.Require().NoError(err)

	failed, err := s.service.MarkFailed(s.ctx, r.ID, "account closed")
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, failed.Status)

	again, err := s.service.MarkFailed(s.ctx, r.ID, "something else")
	s.Require().NoError(err)
	s.Equal("account closed", again.FailureReason)

	_, err = s.service.MarkReversed(s.ctx, r.ID, "reversed")
	s.Require().NoError(err)

	pending := s.create(s.member, "create-2")
	_, err = s.service.MarkFailed(s.ctx, pending.ID, "x")
	s.True(dErrors.Is(err, dErrors.CodeConflict), "pending requests never fail")
}

func (s *ObligationServiceSuite) TestRecurringRequestRollsOver() {
	due := time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC)
	r := s.create(s.owner, "create-1", func(c *service.CreateCommand) {
		c.DueDate = &due
		c.RecurrenceRule = "FREQ=MONTHLY;COUNT=2"
	})
	s.payThrough(r, "approve-1")

	page, _, _, err := s.service.List(s.ctx, s.owner, models.Filter{Status: models.StatusPending, Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	next := page[0]
	s.Require().NotNil(next.DueDate)
	s.Equal(time.Date(2026, 5, 30, 9, 0, 0, 0, time.UTC), *next.DueDate)
	s.Equal(r.ID, *next.RecurrenceParentID)

	s.payThrough(next, "approve-2")
	page, _, _, err = s.service.List(s.ctx, s.owner, models.Filter{Status: models.StatusPending, Limit: 10})
	s.Require().NoError(err)
	s.Empty(page, "COUNT=2 ends the series after the second payment")
}

func (s *ObligationServiceSuite) payThrough(r *models.Request, approveKey string) {
	_, err := s.decide(s.service.Approve, s.owner, r, approveKey)
	s.Require().NoError(err)
	_, err = s.service.MarkProcessing(s.ctx, r.ID, models.PayoutSnapshot{})
	s.Require().NoError(err)
	_, err = s.service.MarkPaid(s.ctx, r.ID)
	s.Require().NoError(err)
}

func (s *ObligationServiceSuite) TestListPagination() {
	for i := range 5 {
		ctx := requestcontext.WithTime(context.Background(), s.now.Add(time.Duration(i)*time.Minute))
		_, err := s.service.Create(ctx, service.CreateCommand{
			Actor: s.member, KinID: s.kinID, Title: "Item", AmountCents: int64(100 + i),
			IdempotencyKey: "list-" + string(rune('a'+i)),
		})
		s.Require().NoError(err)
	}

	page, next, more, err := s.service.List(s.ctx, s.owner, models.Filter{Limit: 3})
	s.Require().NoError(err)
	s.Len(page, 3)
	s.True(more)
	s.Equal(int64(104), page[0].AmountCents)

	cursor := decodeCursor(s.T(), next)
	page, _, more, err = s.service.List(s.ctx, s.owner, models.Filter{Limit: 3, Cursor: cursor})
	s.Require().NoError(err)
	s.Len(page, 2)
	s.False(more)
	s.Equal(int64(100), page[1].AmountCents)

	other, _, _, err := s.service.List(s.ctx, testutil.OwnerActor(), models.Filter{Limit: 3})
	s.Require().NoError(err)
	s.Empty(other)

	n, err := s.service.CountPending(s.ctx, s.owner.HouseholdID)
	s.Require().NoError(err)
	s.Equal(5, n)
}

func (s *ObligationServiceSuite) TestListWithKinAttachesKin() {
	r := s.create(s.member, "create-1")

	page, _, _, err := s.service.ListWithKin(s.ctx, s.owner, models.Filter{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(r.ID, page[0].ID)
	s.Equal(models.KinRef{ID: s.kinID, DisplayName: "Chidi"}, page[0].Kin)

	s.Run("deleted kin still resolve", func() {
		deletedAt := s.now.Add(time.Hour)
		s.kin.members[s.kinID].DeletedAt = &deletedAt

		page, _, _, err := s.service.ListWithKin(s.ctx, s.owner, models.Filter{Limit: 10})
		s.Require().NoError(err)
		s.Require().Len(page, 1)
		s.Equal("Chidi", page[0].Kin.DisplayName)

		detail, err := s.service.Get(s.ctx, s.owner, r.ID)
		s.Require().NoError(err)
		s.Equal("Chidi", detail.Kin.DisplayName)
	})
}

func (s *ObligationServiceSuite) TestEventsAreRecorded() {
	r := s.create(s.member, "create-1")
	_, err := s.decide(s.service.Approve, s.owner, r, "approve-1")
	s.Require().NoError(err)
	s.Equal([]string{"request.created", "request.approved"}, s.events.types)
}
