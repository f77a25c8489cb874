package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	obmodels "kinledger/internal/obligation/models"
	"kinledger/internal/payout/models"
	"kinledger/internal/platform/redis"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

const workerBatch = 50

// Scheduler moves approved requests with a future due date to scheduled and
// executes payout jobs once their run_at has passed.
type Scheduler struct {
	payouts     *Service
	interval    time.Duration
	maxAttempts int
	locker      redis.Locker
	logger      *slog.Logger
}

func NewScheduler(payouts *Service, locker redis.Locker, interval time.Duration, maxAttempts int) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{
		payouts:     payouts,
		interval:    interval,
		maxAttempts: maxAttempts,
		locker:      locker,
		logger:      payouts.logger,
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	return runEvery(ctx, s.interval, func(ctx context.Context) {
		err := s.locker.TryRun(ctx, "payout-scheduler", s.interval*2, func(ctx context.Context) error {
			_, err := s.Tick(ctx)
			return err
		})
		if err != nil && !errors.Is(err, redis.ErrLockHeld) {
			s.logger.ErrorContext(ctx, "payout scheduler tick failed", "error", err)
		}
	})
}

// Tick runs one scheduling pass and returns how many jobs were executed.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	if err := s.markScheduled(ctx, now); err != nil {
		return 0, err
	}
	due, err := s.payouts.store.DueJobs(ctx, now, workerBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load due payout jobs")
	}
	ran := 0
	for _, job := range due {
		if err := s.payouts.ExecuteJob(ctx, job, s.maxAttempts); err != nil {
			s.logger.ErrorContext(ctx, "payout job execution failed",
				"job_id", job.ID,
				"obligation_id", job.RequestID,
				"error", err,
			)
			continue
		}
		ran++
	}
	return ran, nil
}

func (s *Scheduler) markScheduled(ctx context.Context, now time.Time) error {
	jobs, err := s.payouts.store.UnscheduledJobs(ctx, now, workerBatch)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load waiting payout jobs")
	}
	for _, job := range jobs {
		err := s.payouts.tx.RunInTx(ctx, func(ctx context.Context) error {
			r, err := s.payouts.requests.Find(ctx, job.HouseholdID, job.RequestID)
			if err != nil {
				return err
			}
			if r.DueDate != nil && r.Status == obmodels.StatusApproved {
				if _, err := s.payouts.requests.MarkScheduled(ctx, r.ID); err != nil {
					return err
				}
			}
			job.Scheduled = true
			job.UpdatedAt = requestcontext.Now(ctx)
			return s.payouts.store.UpdateJob(ctx, job)
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to mark payout job scheduled",
				"job_id", job.ID,
				"obligation_id", job.RequestID,
				"error", err,
			)
		}
	}
	return nil
}

// ConfirmationSweeper raises one alert for every payout the provider has not
// confirmed within the timeout.
type ConfirmationSweeper struct {
	payouts  *Service
	timeout  time.Duration
	interval time.Duration
	locker   redis.Locker
	logger   *slog.Logger
}

func NewConfirmationSweeper(payouts *Service, locker redis.Locker, timeout, interval time.Duration) *ConfirmationSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ConfirmationSweeper{
		payouts:  payouts,
		timeout:  timeout,
		interval: interval,
		locker:   locker,
		logger:   payouts.logger,
	}
}

func (c *ConfirmationSweeper) Run(ctx context.Context) error {
	return runEvery(ctx, c.interval, func(ctx context.Context) {
		err := c.locker.TryRun(ctx, "payout-confirmation-sweep", c.interval*2, func(ctx context.Context) error {
			_, err := c.Sweep(ctx)
			return err
		})
		if err != nil && !errors.Is(err, redis.ErrLockHeld) {
			c.logger.ErrorContext(ctx, "payout confirmation sweep failed", "error", err)
		}
	})
}

// Sweep flags overdue payouts and returns how many were flagged.
func (c *ConfirmationSweeper) Sweep(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	overdue, err := c.payouts.store.ListUnconfirmed(ctx, now.Add(-c.timeout), workerBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list unconfirmed payouts")
	}
	flagged := 0
	for _, candidate := range overdue {
		alerted := false
		err := c.payouts.tx.RunInTx(ctx, func(ctx context.Context) error {
			alerted = false
			p, err := c.payouts.store.LockPayout(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if p.Status.IsTerminal() || p.ConfirmationAlertedAt != nil {
				return nil
			}
			at := requestcontext.Now(ctx)
			p.ConfirmationAlertedAt = &at
			if err := c.payouts.store.UpdatePayout(ctx, p); err != nil {
				return err
			}
			alerted = true
			return c.payouts.alert(ctx, "payout.confirmation_overdue", p.ID.String(), overdueAlert{
				Payout:  p,
				Waiting: at.Sub(p.CreatedAt).Round(time.Second).String(),
			})
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to flag overdue payout", "payout_id", candidate.ID, "error", err)
			continue
		}
		if alerted {
			flagged++
			c.payouts.metrics.IncrementOverdue()
			c.logger.WarnContext(ctx, "payout confirmation overdue",
				"payout_id", candidate.ID,
				"status", candidate.Status,
				"created_at", candidate.CreatedAt,
			)
		}
	}
	return flagged, nil
}

type overdueAlert struct {
	Payout  *models.Payout `json:"payout"`
	Waiting string         `json:"waiting"`
}

func runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
