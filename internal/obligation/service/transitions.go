package service

import (
	"context"
	"time"

	"kinledger/internal/obligation/models"
	"kinledger/internal/obligation/recurrence"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

// The transitions below are driven by the payout engine, the scheduler and
// reconciliation. They join the caller's transaction when there is one.

// MarkScheduled moves an approved request to scheduled. A request that is
// already scheduled is returned unchanged.
func (s *Service) MarkScheduled(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return s.internalTransition(ctx, requestID, models.StatusScheduled,
		func(r *models.Request) error { return r.CanTransition(models.StatusScheduled) },
		func(r *models.Request, now time.Time) { r.ApplyTransition(models.StatusScheduled, now) },
	)
}

// MarkProcessing starts a payout and freezes its snapshot on the request.
func (s *Service) MarkProcessing(ctx context.Context, requestID id.RequestID, snap models.PayoutSnapshot) (*models.Request, error) {
	var out *models.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		var err error
		out, err = s.transition(ctx, requestID,
			func(r *models.Request) error { return r.CanStartProcessing() },
			func(r *models.Request) {
				snap.CapturedAt = now
				r.ApplyProcessing(snap, now)
			},
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, out)
	return out, nil
}

// MarkPaid completes a processing request. When the request recurs and the
// series has not ended, the next occurrence is created as a new pending
// request in the same transaction.
func (s *Service) MarkPaid(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	var out *models.Request
	var next *models.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		already := false
		var err error
		out, err = s.transition(ctx, requestID,
			func(r *models.Request) error {
				if r.Status == models.StatusPaid {
					already = true
					return nil
				}
				return r.CanTransition(models.StatusPaid)
			},
			func(r *models.Request) {
				if !already {
					r.ApplyTransition(models.StatusPaid, now)
				}
			},
		)
		if err != nil || already {
			return err
		}
		next, err = s.scheduleNext(ctx, out, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, out)
	if next != nil {
		s.metrics.IncrementRecurrence()
		s.logger.InfoContext(ctx, "recurring request created",
			"request_id", requestcontext.RequestID(ctx),
			"obligation_id", next.ID,
			"previous_obligation_id", out.ID,
			"due_date", next.DueDate,
		)
	}
	return out, nil
}

func (s *Service) scheduleNext(ctx context.Context, r *models.Request, now time.Time) (*models.Request, error) {
	if r.RecurrenceRule == "" || r.DueDate == nil {
		return nil, nil
	}
	rule, err := recurrence.Parse(r.RecurrenceRule)
	if err != nil {
		// the rule was validated on create; a bad stored rule stops the series
		s.logger.WarnContext(ctx, "stored recurrence rule no longer parses",
			"request_id", requestcontext.RequestID(ctx),
			"obligation_id", r.ID,
			"error", err,
		)
		return nil, nil
	}
	due := rule.Next(*r.DueDate)
	if r.RecurrenceEndAt != nil && due.After(*r.RecurrenceEndAt) {
		return nil, nil
	}
	next := r.NextOccurrence(due, now)
	if err := s.store.Create(ctx, next); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create recurring request")
	}
	return next, s.emit(ctx, "request.created", next)
}

// MarkFailed records a downstream payout failure. Repeating it is a no-op.
func (s *Service) MarkFailed(ctx context.Context, requestID id.RequestID, reason string) (*models.Request, error) {
	return s.internalTransition(ctx, requestID, models.StatusFailed,
		func(r *models.Request) error { return r.CanTransition(models.StatusFailed) },
		func(r *models.Request, now time.Time) { r.ApplyFailure(reason, now) },
	)
}

// MarkReversed takes a paid request back to failed after the provider
// reversed its payout. It is the only way out of paid.
func (s *Service) MarkReversed(ctx context.Context, requestID id.RequestID, reason string) (*models.Request, error) {
	return s.internalTransition(ctx, requestID, models.StatusFailed,
		func(r *models.Request) error { return r.CanReverse() },
		func(r *models.Request, now time.Time) { r.ApplyFailure(reason, now) },
	)
}

// internalTransition treats a request already in target as done.
func (s *Service) internalTransition(ctx context.Context, requestID id.RequestID, target models.Status,
	check func(*models.Request) error, apply func(*models.Request, time.Time)) (*models.Request, error) {
	var out *models.Request
	changed := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		changed = false
		var err error
		out, err = s.transition(ctx, requestID,
			func(r *models.Request) error {
				if r.Status == target {
					return nil
				}
				changed = true
				return check(r)
			},
			func(r *models.Request) {
				if changed {
					apply(r, now)
				}
			},
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logTransition(ctx, out)
	}
	return out, nil
}
