package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kinledger/internal/idempotency"
	ledgermodels "kinledger/internal/ledger/models"
	obmodels "kinledger/internal/obligation/models"
	"kinledger/internal/payout/models"
	"kinledger/internal/payout/rail"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/sentinel"
	"kinledger/pkg/requestcontext"
)

type ExecuteCommand struct {
	Actor          id.Actor
	RequestID      id.RequestID
	KinID          id.KinID
	AmountCents    int64
	Description    string
	IdempotencyKey string
}

func (c ExecuteCommand) validate() error {
	if c.RequestID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "request_id is required")
	}
	if c.KinID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "kin_id is required")
	}
	if c.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	return nil
}

// fingerprintInput is the logical input an idempotency key is bound to.
type fingerprintInput struct {
	RequestID   string `json:"request_id"`
	KinID       string `json:"kin_id"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

func (c ExecuteCommand) fingerprint() fingerprintInput {
	return fingerprintInput{
		RequestID:   c.RequestID.String(),
		KinID:       c.KinID.String(),
		AmountCents: c.AmountCents,
		Description: strings.TrimSpace(c.Description),
	}
}

// Execute turns an approved request into a pending payout, reserving the
// amount in the ledger, and then dispatches it to the rail. A replayed key
// returns the payout the first call created, as it is now, without
// dispatching again.
func (s *Service) Execute(ctx context.Context, cmd ExecuteCommand) (*models.Payout, error) {
	ctx, span := tracer.Start(ctx, "payout.execute", trace.WithAttributes(
		attribute.String("obligation.id", cmd.RequestID.String()),
		attribute.Int64("payout.amount_cents", cmd.AmountCents),
	))
	defer span.End()

	if err := cmd.Actor.RequireOwner(); err != nil {
		return nil, err
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	var created *models.Payout
	var transfer rail.Transfer
	var replayed bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		created, replayed, err = idempotency.Do(ctx, s.idempotency,
			idempotency.Scope{Kind: idempotency.KindPayoutExecute, ProfileID: cmd.Actor.ProfileID},
			cmd.IdempotencyKey, cmd.fingerprint(),
			func(ctx context.Context) (*models.Payout, error) {
				p, t, err := s.create(ctx, cmd)
				if err != nil {
					return nil, err
				}
				transfer = t
				return p, nil
			})
		return err
	})
	if err != nil {
		spanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("payout.id", created.ID.String()), attribute.Bool("payout.replayed", replayed))

	if replayed {
		current, err := s.store.FindPayout(ctx, created.ID)
		if err != nil {
			return nil, translateStoreErr(err)
		}
		s.logger.InfoContext(ctx, "payout execute replayed",
			"request_id", requestcontext.RequestID(ctx),
			"payout_id", current.ID,
			"status", current.Status,
		)
		return current, nil
	}
	s.logPayout(ctx, "payout created", created, "amount_cents", created.AmountCents)
	return s.dispatch(ctx, created, transfer)
}

// create runs inside the execute transaction. The request CAS to processing
// is what makes a concurrent execute on the same request lose with CONFLICT,
// and the ledger reservation is what makes a payout racing for the same
// funds lose with INSUFFICIENT_BALANCE.
func (s *Service) create(ctx context.Context, cmd ExecuteCommand) (*models.Payout, rail.Transfer, error) {
	householdID := cmd.Actor.HouseholdID
	r, err := s.requests.Find(ctx, householdID, cmd.RequestID)
	if err != nil {
		return nil, rail.Transfer{}, err
	}
	if !r.Status.Executable() {
		return nil, rail.Transfer{}, dErrors.Newf(dErrors.CodeConflict, "request is %s and cannot be paid out", r.Status)
	}
	if r.KinID != cmd.KinID {
		return nil, rail.Transfer{}, dErrors.New(dErrors.CodeValidation, "kin_id does not match the request")
	}
	if err := r.AuthorizesAmount(cmd.AmountCents); err != nil {
		return nil, rail.Transfer{}, err
	}
	if existing, err := s.store.FindLiveByRequest(ctx, r.ID); err == nil {
		return nil, rail.Transfer{}, dErrors.New(dErrors.CodeConflict, "request already has a payout").
			WithDetails(map[string]any{"payout_id": existing.ID.String()})
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, rail.Transfer{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up payouts")
	}
	payee, err := s.payees.PayeeFor(ctx, householdID, r.KinID)
	if err != nil {
		return nil, rail.Transfer{}, err
	}

	now := requestcontext.Now(ctx)
	description := strings.TrimSpace(cmd.Description)
	if description == "" {
		description = r.Title
	}
	p := &models.Payout{
		ID:                 id.NewPayoutID(),
		HouseholdID:        householdID,
		RequestID:          r.ID,
		KinID:              r.KinID,
		InitiatorProfileID: cmd.Actor.ProfileID,
		AmountCents:        cmd.AmountCents,
		Currency:           payee.Currency,
		Status:             models.StatusPending,
		Description:        description,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if _, err := s.requests.MarkProcessing(ctx, r.ID, obmodels.PayoutSnapshot{
		PayoutID:      p.ID,
		KinID:         r.KinID,
		KinName:       payee.Kin.DisplayName,
		AccountName:   payee.Account.AccountName,
		AccountNumber: payee.Account.AccountNumber,
		BankCode:      payee.Account.BankCode,
		BankName:      payee.Account.BankName,
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
	}); err != nil {
		return nil, rail.Transfer{}, err
	}

	reservation, err := s.ledger.RecordPending(ctx, ledgermodels.Entry{
		HouseholdID: householdID,
		ProfileID:   &p.InitiatorProfileID,
		RequestID:   &p.RequestID,
		PayoutID:    &p.ID,
		AmountCents: p.AmountCents,
		Direction:   ledgermodels.DirectionOut,
		Type:        ledgermodels.TypePayout,
		Description: description,
	})
	if err != nil {
		return nil, rail.Transfer{}, err
	}
	p.TransactionID = reservation.ID

	if err := s.store.CreatePayout(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, rail.Transfer{}, dErrors.New(dErrors.CodeConflict, "request already has a payout")
		}
		return nil, rail.Transfer{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create payout")
	}
	if err := s.finishJob(ctx, r.ID, models.JobDone); err != nil {
		return nil, rail.Transfer{}, err
	}
	if err := s.emit(ctx, "payout.created", p); err != nil {
		return nil, rail.Transfer{}, err
	}

	return p, rail.Transfer{
		Reference:     p.Reference(),
		AmountCents:   p.AmountCents,
		Currency:      p.Currency,
		AccountName:   payee.Account.AccountName,
		AccountNumber: payee.Account.AccountNumber,
		BankCode:      payee.Account.BankCode,
		Narration:     description,
	}, nil
}

// dispatch runs after the execute transaction committed. A definite failure
// fails the payout and surfaces PAYMENT_ERROR. A timeout leaves it pending
// for the provider webhook or the confirmation sweeper.
func (s *Service) dispatch(ctx context.Context, p *models.Payout, t rail.Transfer) (*models.Payout, error) {
	ctx, span := tracer.Start(ctx, "payout.dispatch", trace.WithAttributes(
		attribute.String("payout.id", p.ID.String()),
		attribute.String("payout.rail", s.dispatcher.Rail()),
	))
	defer span.End()

	receipt, err := s.dispatcher.Dispatch(ctx, t)
	if err != nil {
		spanError(span, err)
		if rail.IsUnknownOutcome(err) {
			s.logger.WarnContext(ctx, "payout dispatch timed out, outcome unknown",
				"request_id", requestcontext.RequestID(ctx),
				"payout_id", p.ID,
				"error", err,
			)
			return p, nil
		}
		reason := "dispatch failed: " + string(rail.KindOf(err))
		if _, _, ferr := s.Fail(ctx, p.ID, reason); ferr != nil {
			s.logger.ErrorContext(ctx, "failed to record payout dispatch failure",
				"request_id", requestcontext.RequestID(ctx),
				"payout_id", p.ID,
				"error", ferr,
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodePaymentError, "payout could not be sent to the bank").
			WithDetails(map[string]any{"payout_id": p.ID.String(), "reason": string(rail.KindOf(err))})
	}

	accepted, err := s.Accept(ctx, p.ID, receipt.ExternalID)
	if err != nil {
		// the rail has the transfer; the webhook can still match it by reference
		s.logger.ErrorContext(ctx, "failed to record payout acceptance",
			"request_id", requestcontext.RequestID(ctx),
			"payout_id", p.ID,
			"external_transaction_id", receipt.ExternalID,
			"error", err,
		)
		return p, nil
	}
	return accepted, nil
}

// Accept stores the rail's transaction id on the payout and then runs the
// accepted hook.
func (s *Service) Accept(ctx context.Context, payoutID id.PayoutID, externalID string) (*models.Payout, error) {
	var p *models.Payout
	changed := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.store.LockPayout(ctx, payoutID)
		if err != nil {
			return translateStoreErr(err)
		}
		changed, err = p.ApplyAccepted(externalID, requestcontext.Now(ctx))
		if err != nil {
			return dErrors.Translate(err, dErrors.CodeConflict)
		}
		if !changed {
			return nil
		}
		if err := s.store.UpdatePayout(ctx, p); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "external transaction id belongs to another payout")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update payout")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logPayout(ctx, "payout accepted by rail", p, "external_transaction_id", externalID)
		if s.onAccepted != nil {
			s.onAccepted(ctx, p)
		}
	}
	return p, nil
}

func (s *Service) finishJob(ctx context.Context, requestID id.RequestID, status models.JobStatus) error {
	j, err := s.store.FindQueuedJob(ctx, requestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payout job")
	}
	j.Finish(status, requestcontext.Now(ctx))
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update payout job")
	}
	return nil
}
