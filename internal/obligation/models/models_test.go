package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/testutil"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:    {StatusApproved, StatusRejected, StatusCancelled},
		StatusApproved:   {StatusScheduled, StatusProcessing, StatusCancelled, StatusFailed},
		StatusScheduled:  {StatusProcessing, StatusCancelled, StatusFailed},
		StatusProcessing: {StatusPaid, StatusFailed},
	}
	all := []Status{StatusPending, StatusApproved, StatusScheduled, StatusProcessing,
		StatusPaid, StatusFailed, StatusRejected, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, StatusPaid.CanTransitionTo(StatusFailed), "reversal is not an ordinary transition")
}

func TestRequestLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	owner := testutil.OwnerActor()
	requester := testutil.DependentOf(owner)

	newRequest := func() *Request {
		return &Request{
			ID:                 id.NewRequestID(),
			HouseholdID:        owner.HouseholdID,
			RequesterProfileID: requester.ProfileID,
			AmountCents:        5000,
			AmountType:         AmountFixed,
			Status:             StatusPending,
		}
	}

	testutil.Given(t, "a pending request", func(t *testing.T) {
		testutil.When(t, "another dependent cancels it", func(t *testing.T) {
			r := newRequest()
			err := r.CanCancel(testutil.DependentOf(owner))
			assert.True(t, dErrors.Is(err, dErrors.CodeForbidden))
		})
		testutil.When(t, "the requester cancels it", func(t *testing.T) {
			r := newRequest()
			require.NoError(t, r.CanCancel(requester))
		})
		testutil.When(t, "it is rejected", func(t *testing.T) {
			r := newRequest()
			require.NoError(t, r.CanTransition(StatusRejected))
			r.ApplyRejection("not this month", now)
			testutil.Then(t, "it is terminal and keeps the reason", func(t *testing.T) {
				assert.True(t, r.Status.IsTerminal())
				assert.Equal(t, "not this month", r.FailureReason)
				assert.True(t, dErrors.Is(r.CanTransition(StatusApproved), dErrors.CodeInvariantViolation))
			})
		})
	})

	testutil.Given(t, "an approved request", func(t *testing.T) {
		r := newRequest()
		r.ApplyTransition(StatusApproved, now)

		testutil.When(t, "a payout starts", func(t *testing.T) {
			require.NoError(t, r.CanStartProcessing())
			r.ApplyProcessing(PayoutSnapshot{KinName: "Chidi", AmountCents: 5000}, now)

			testutil.Then(t, "the snapshot is frozen", func(t *testing.T) {
				require.NotNil(t, r.PayoutSnapshot)
				assert.Equal(t, StatusProcessing, r.Status)
				assert.Error(t, r.CanStartProcessing())
				assert.True(t, dErrors.Is(r.CanCancel(owner), dErrors.CodeInvariantViolation))
			})
		})

		testutil.When(t, "it is paid and later reversed", func(t *testing.T) {
			r.ApplyTransition(StatusPaid, now)
			require.NoError(t, r.CanReverse())
			r.ApplyFailure("reversed", now)
			testutil.Then(t, "it ends failed", func(t *testing.T) {
				assert.Equal(t, StatusFailed, r.Status)
				assert.Error(t, r.CanReverse())
			})
		})
	})
}

func TestAuthorizesAmount(t *testing.T) {
	fixed := &Request{AmountCents: 5000, AmountType: AmountFixed}
	assert.NoError(t, fixed.AuthorizesAmount(5000))
	assert.Error(t, fixed.AuthorizesAmount(4999))
	assert.Error(t, fixed.AuthorizesAmount(5001))

	variable := &Request{AmountCents: 5000, AmountType: AmountVariable}
	assert.NoError(t, variable.AuthorizesAmount(2500))
	assert.NoError(t, variable.AuthorizesAmount(5000))
	assert.True(t, dErrors.Is(variable.AuthorizesAmount(5001), dErrors.CodeValidation))
	assert.Error(t, variable.AuthorizesAmount(0))
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 1, 0)
	first := &Request{ID: id.NewRequestID(), Status: StatusPaid, RecurrenceRule: "FREQ=MONTHLY",
		PayoutSnapshot: &PayoutSnapshot{KinName: "x"}, FailureReason: "old"}

	second := first.NextOccurrence(due, now)
	assert.Equal(t, StatusPending, second.Status)
	assert.Nil(t, second.PayoutSnapshot)
	assert.Empty(t, second.FailureReason)
	require.NotNil(t, second.RecurrenceParentID)
	assert.Equal(t, first.ID, *second.RecurrenceParentID)

	third := second.NextOccurrence(due.AddDate(0, 1, 0), now)
	assert.Equal(t, first.ID, *third.RecurrenceParentID)
}

func TestParsers(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)
	_, err = ParsePriority("urgent")
	assert.Error(t, err)

	a, err := ParseAmountType("VARIABLE")
	require.NoError(t, err)
	assert.Equal(t, AmountVariable, a)

	st, err := ParseStatus(" Paid ")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, st)
	_, err = ParseStatus("done")
	assert.Error(t, err)
}
