package service

import (
	"context"
	"errors"
	"time"

	"kinledger/internal/platform/redis"
	"kinledger/internal/reconciliation/models"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

const sweepBatch = 100

// OrphanSweeper expires orphans whose target never appeared and raises an
// alert for each one.
type OrphanSweeper struct {
	processor *Processor
	locker    redis.Locker
	interval  time.Duration
}

func NewOrphanSweeper(processor *Processor, locker redis.Locker, interval time.Duration) *OrphanSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &OrphanSweeper{processor: processor, locker: locker, interval: interval}
}

func (s *OrphanSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := s.locker.TryRun(ctx, "reconciliation-orphan-sweep", s.interval*2, func(ctx context.Context) error {
				_, err := s.Sweep(ctx)
				return err
			})
			if err != nil && !errors.Is(err, redis.ErrLockHeld) {
				s.processor.logger.ErrorContext(ctx, "orphan sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires one batch and returns how many orphans it closed.
func (s *OrphanSweeper) Sweep(ctx context.Context) (int, error) {
	p := s.processor
	var expired []*models.Orphan
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		expired = expired[:0]
		now := requestcontext.Now(ctx)
		due, err := p.store.ExpiredOrphans(ctx, now, sweepBatch)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load expired orphans")
		}
		for _, o := range due {
			if o.Status != models.OrphanPending {
				continue
			}
			o.Close(models.OrphanExpired, now)
			if err := p.store.UpdateOrphan(ctx, o); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire orphan")
			}
			if p.alerts != nil {
				if err := p.alerts.Alert(ctx, "reconciliation.orphan_expired", o.ID.String(), o); err != nil {
					return err
				}
			}
			expired = append(expired, o)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, o := range expired {
		p.metrics.IncrementExpired()
		p.logger.WarnContext(ctx, "orphaned event expired",
			"orphan_id", o.ID,
			"provider", o.Provider,
			"event_id", o.EventID,
			"target", o.Target,
			"reference", o.Reference,
			"received_at", o.ReceivedAt,
		)
	}
	return len(expired), nil
}

// Orphans lists buffered events for operators.
func (p *Processor) Orphans(ctx context.Context, status models.OrphanStatus, limit int) ([]*models.Orphan, error) {
	if status == "" {
		status = models.OrphanPending
	}
	orphans, err := p.store.ListOrphans(ctx, status, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list orphans")
	}
	return orphans, nil
}
