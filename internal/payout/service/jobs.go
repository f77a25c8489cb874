package service

import (
	"context"
	"errors"
	"time"

	obmodels "kinledger/internal/obligation/models"
	"kinledger/internal/payout/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/sentinel"
	"kinledger/pkg/requestcontext"
)

// JobQueue queues the payout of an approved request. The request service
// calls it inside the approve and cancel transactions.
type JobQueue struct {
	store Store
}

func NewJobQueue(store Store) *JobQueue {
	return &JobQueue{store: store}
}

func (q *JobQueue) Enqueue(ctx context.Context, r *obmodels.Request, initiator id.ProfileID, runAt time.Time) error {
	j := models.NewJob(r.ID, r.HouseholdID, initiator, runAt, requestcontext.Now(ctx))
	if err := q.store.InsertJob(ctx, j); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeConflict, "request already has a queued payout")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue payout job")
	}
	return nil
}

// CancelForRequest cancels the request's queued job, if it has one.
func (q *JobQueue) CancelForRequest(ctx context.Context, requestID id.RequestID) error {
	j, err := q.store.FindQueuedJob(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payout job")
	}
	j.Finish(models.JobCancelled, requestcontext.Now(ctx))
	if err := q.store.UpdateJob(ctx, j); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel payout job")
	}
	return nil
}

const (
	defaultJobAttempts = 5
	maxJobRetryDelay   = time.Hour
)

func jobRetryDelay(attempts int) time.Duration {
	d := time.Minute << min(attempts, 6)
	return min(d, maxJobRetryDelay)
}

// ExecuteJob executes a due job as the approving owner under the job's own
// idempotency key. A request that has moved on cancels the job. Other
// failures are retried later until the attempt budget runs out, at which
// point the request fails.
func (s *Service) ExecuteJob(ctx context.Context, job *models.Job, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = defaultJobAttempts
	}
	r, err := s.requests.Find(ctx, job.HouseholdID, job.RequestID)
	if err != nil {
		return s.recordJobFailure(ctx, job.ID, nil, err, maxAttempts)
	}
	if !r.Status.Executable() {
		s.metrics.IncrementJobRun("cancelled")
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.finishJob(ctx, r.ID, models.JobCancelled)
		})
	}

	_, err = s.Execute(ctx, ExecuteCommand{
		Actor:          job.Actor(),
		RequestID:      r.ID,
		KinID:          r.KinID,
		AmountCents:    r.AmountCents,
		Description:    r.Title,
		IdempotencyKey: job.IdempotencyKey(),
	})
	switch {
	case err == nil:
		s.metrics.IncrementJobRun("executed")
		return nil
	case dErrors.Is(err, dErrors.CodePaymentError):
		// the payout was created and the job closed before dispatch failed
		s.metrics.IncrementJobRun("payment_error")
		return nil
	}
	return s.recordJobFailure(ctx, job.ID, r, err, maxAttempts)
}

func (s *Service) recordJobFailure(ctx context.Context, jobID id.JobID, r *obmodels.Request, cause error, maxAttempts int) error {
	s.metrics.IncrementJobRun("failed")
	var j *models.Job
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		j, err = s.store.FindJob(ctx, jobID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payout job")
		}
		if j.Status != models.JobQueued {
			return nil
		}
		now := requestcontext.Now(ctx)
		j.RecordFailure(cause.Error(), now.Add(jobRetryDelay(j.Attempts+1)), maxAttempts, now)
		if err := s.store.UpdateJob(ctx, j); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update payout job")
		}
		if j.Status != models.JobFailed {
			return nil
		}
		if r != nil {
			if _, err := s.requests.MarkFailed(ctx, r.ID, "scheduled payout failed: "+string(dErrors.CodeOf(cause))); err != nil {
				return err
			}
		}
		return s.alert(ctx, "payout.job_failed", j.ID.String(), j)
	})
	if err != nil {
		return err
	}
	s.logger.WarnContext(ctx, "payout job run failed",
		"request_id", requestcontext.RequestID(ctx),
		"job_id", jobID,
		"attempts", j.Attempts,
		"job_status", j.Status,
		"error", cause,
	)
	return nil
}
