package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ledgermodels "kinledger/internal/ledger/models"
	"kinledger/internal/payout/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

// ReasonReversed is the failure reason a request carries after its payout
// was reversed by the provider.
const ReasonReversed = "reversed"

// Complete settles a payout: the reservation is finalized as completed and
// the request becomes paid. It reports false when the payout was already
// completed.
func (s *Service) Complete(ctx context.Context, payoutID id.PayoutID) (*models.Payout, bool, error) {
	return s.settle(ctx, "payout.complete", payoutID, func(ctx context.Context, p *models.Payout) (bool, error) {
		changed, err := p.ApplyCompleted(requestcontext.Now(ctx))
		if err != nil || !changed {
			return changed, err
		}
		if _, err := s.ledger.Finalize(ctx, p.TransactionID, ledgermodels.StatusCompleted); err != nil {
			return false, err
		}
		if _, err := s.requests.MarkPaid(ctx, p.RequestID); err != nil {
			return false, err
		}
		return true, nil
	}, "payout.completed")
}

// Fail releases the reservation and fails the request. It reports false when
// the payout had already failed. A completed payout cannot fail; it can only
// be reversed.
func (s *Service) Fail(ctx context.Context, payoutID id.PayoutID, reason string) (*models.Payout, bool, error) {
	return s.settle(ctx, "payout.fail", payoutID, func(ctx context.Context, p *models.Payout) (bool, error) {
		changed, err := p.ApplyFailed(reason, requestcontext.Now(ctx))
		if err != nil || !changed {
			return changed, err
		}
		if _, err := s.ledger.Finalize(ctx, p.TransactionID, ledgermodels.StatusFailed); err != nil {
			return false, err
		}
		if _, err := s.requests.MarkFailed(ctx, p.RequestID, reason); err != nil {
			return false, err
		}
		return true, nil
	}, "payout.failed")
}

// Reverse records a provider clawback of a completed payout. The original
// ledger entry stays untouched; a reversal entry returns the funds and the
// request moves from paid to failed. It reports false when the payout was
// already reversed.
func (s *Service) Reverse(ctx context.Context, payoutID id.PayoutID, reason string) (*models.Payout, bool, error) {
	return s.settle(ctx, "payout.reverse", payoutID, func(ctx context.Context, p *models.Payout) (bool, error) {
		if p.IsReversed() {
			return false, nil
		}
		if err := p.CanReverse(); err != nil {
			return false, err
		}
		if reason == "" {
			reason = ReasonReversed
		}
		rev, err := s.ledger.Reverse(ctx, p.TransactionID, reason)
		if err != nil {
			return false, err
		}
		p.ApplyReversal(rev.ID, requestcontext.Now(ctx))
		if _, err := s.requests.MarkReversed(ctx, p.RequestID, ReasonReversed); err != nil {
			return false, err
		}
		return true, nil
	}, "payout.reversed")
}

func (s *Service) settle(ctx context.Context, span string, payoutID id.PayoutID,
	apply func(context.Context, *models.Payout) (bool, error), eventType string) (*models.Payout, bool, error) {
	ctx, sp := tracer.Start(ctx, span, trace.WithAttributes(attribute.String("payout.id", payoutID.String())))
	defer sp.End()

	var p *models.Payout
	changed := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.store.LockPayout(ctx, payoutID)
		if err != nil {
			return translateStoreErr(err)
		}
		changed, err = apply(ctx, p)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
				return dErrors.Translate(err, dErrors.CodeConflict)
			}
			return err
		}
		if !changed {
			return nil
		}
		if err := s.store.UpdatePayout(ctx, p); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update payout")
		}
		return s.emit(ctx, eventType, p)
	})
	if err != nil {
		spanError(sp, err)
		return nil, false, err
	}
	if changed {
		s.logPayout(ctx, "payout settled", p, "event", eventType)
	}
	return p, changed, nil
}
