package service

import (
	"context"
	"strings"

	"kinledger/internal/idempotency"
	ledgermodels "kinledger/internal/ledger/models"
	"kinledger/internal/payout/rail"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

// Transfers sends money to a bank account. rail.Dispatcher implements it.
type Transfers interface {
	Dispatch(ctx context.Context, t rail.Transfer) (*rail.Receipt, error)
}

type WithdrawCommand struct {
	Actor          id.Actor
	AmountCents    int64
	IdempotencyKey string
}

type withdrawInput struct {
	AmountCents int64 `json:"amount_cents"`
}

// Withdrawal is a pending transfer of balance to the owner's own account.
type Withdrawal struct {
	TransactionID id.TransactionID    `json:"transaction_id"`
	AmountCents   int64               `json:"amount_cents"`
	Currency      string              `json:"currency"`
	Status        ledgermodels.Status `json:"status"`
}

// Withdraw reserves the amount against the available balance and sends it
// to the owner's primary account. The outcome arrives through the rail's
// webhook. A replayed key returns the withdrawal as it is now without
// sending again.
func (s *Service) Withdraw(ctx context.Context, cmd WithdrawCommand) (*Withdrawal, error) {
	if err := cmd.Actor.RequireOwner(); err != nil {
		return nil, err
	}
	if cmd.AmountCents <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	if s.transfers == nil {
		return nil, dErrors.New(dErrors.CodeServiceUnavailable, "withdrawals are not available")
	}
	scope := idempotency.Scope{Kind: idempotency.KindWithdrawInitiate, ProfileID: cmd.Actor.ProfileID}

	var out *Withdrawal
	var transfer rail.Transfer
	var replayed bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		out, replayed, err = idempotency.Do(ctx, s.idempotency, scope, cmd.IdempotencyKey, withdrawInput{AmountCents: cmd.AmountCents},
			func(ctx context.Context) (*Withdrawal, error) {
				w, t, err := s.reserveWithdrawal(ctx, cmd)
				if err != nil {
					return nil, err
				}
				transfer = t
				return w, nil
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	if replayed {
		t, err := s.ledger.Get(ctx, cmd.Actor.HouseholdID, out.TransactionID)
		if err != nil {
			return nil, err
		}
		out.Status = t.Status
		return out, nil
	}
	s.logger.InfoContext(ctx, "withdrawal initiated",
		"request_id", requestcontext.RequestID(ctx),
		"household_id", cmd.Actor.HouseholdID,
		"transaction_id", out.TransactionID,
		"amount_cents", out.AmountCents,
	)
	return s.sendWithdrawal(ctx, cmd.Actor.HouseholdID, out, transfer)
}

func (s *Service) reserveWithdrawal(ctx context.Context, cmd WithdrawCommand) (*Withdrawal, rail.Transfer, error) {
	account, err := s.households.GetPrimaryAccount(ctx, cmd.Actor)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, rail.Transfer{}, dErrors.New(dErrors.CodeValidation, "set a primary account before withdrawing")
		}
		return nil, rail.Transfer{}, err
	}
	currency, err := s.households.Currency(ctx, cmd.Actor.HouseholdID)
	if err != nil {
		return nil, rail.Transfer{}, err
	}
	profileID := cmd.Actor.ProfileID
	t, err := s.ledger.RecordPending(ctx, ledgermodels.Entry{
		HouseholdID: cmd.Actor.HouseholdID,
		ProfileID:   &profileID,
		AmountCents: cmd.AmountCents,
		Direction:   ledgermodels.DirectionOut,
		Type:        ledgermodels.TypeFunding,
		Description: "Balance withdrawal",
	})
	if err != nil {
		return nil, rail.Transfer{}, err
	}
	w := &Withdrawal{
		TransactionID: t.ID,
		AmountCents:   t.AmountCents,
		Currency:      currency,
		Status:        t.Status,
	}
	if err := s.emitWithdrawal(ctx, "balance.withdrawal_initiated", cmd.Actor.HouseholdID, w); err != nil {
		return nil, rail.Transfer{}, err
	}
	return w, rail.Transfer{
		Reference:     rail.WithdrawalReference(t.ID.String()),
		AmountCents:   t.AmountCents,
		Currency:      currency,
		AccountName:   account.AccountName,
		AccountNumber: account.AccountNumber,
		BankCode:      account.BankCode,
		Narration:     "Balance withdrawal",
	}, nil
}

// sendWithdrawal runs after the reservation committed. A definite failure
// releases the reservation and surfaces PAYMENT_ERROR. A timeout leaves it
// pending for the webhook.
func (s *Service) sendWithdrawal(ctx context.Context, householdID id.HouseholdID, w *Withdrawal, t rail.Transfer) (*Withdrawal, error) {
	receipt, err := s.transfers.Dispatch(ctx, t)
	if err != nil {
		if rail.IsUnknownOutcome(err) {
			s.logger.WarnContext(ctx, "withdrawal dispatch timed out, outcome unknown",
				"request_id", requestcontext.RequestID(ctx),
				"transaction_id", w.TransactionID,
				"error", err,
			)
			return w, nil
		}
		if _, ferr := s.SettleWithdrawal(ctx, w.TransactionID, ledgermodels.StatusFailed, 0, ""); ferr != nil {
			s.logger.ErrorContext(ctx, "failed to record withdrawal dispatch failure",
				"request_id", requestcontext.RequestID(ctx),
				"transaction_id", w.TransactionID,
				"error", ferr,
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodePaymentError, "withdrawal could not be sent to the bank").
			WithDetails(map[string]any{"transaction_id": w.TransactionID.String(), "reason": string(rail.KindOf(err))})
	}
	s.logger.InfoContext(ctx, "withdrawal accepted by rail",
		"request_id", requestcontext.RequestID(ctx),
		"household_id", householdID,
		"transaction_id", w.TransactionID,
		"external_transaction_id", receipt.ExternalID,
	)
	return w, nil
}

// SettleWithdrawal applies a rail outcome to a pending withdrawal. It reports
// false when the entry already held the outcome. A reported amount or
// currency that differs from the entry is a CONFLICT.
func (s *Service) SettleWithdrawal(ctx context.Context, txID id.TransactionID, outcome ledgermodels.Status, amountCents int64, currency string) (bool, error) {
	changed := false
	var householdID id.HouseholdID
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.withdrawal(ctx, txID, amountCents, currency)
		if err != nil {
			return err
		}
		householdID = t.HouseholdID
		if t.Status == outcome {
			return nil
		}
		if _, err := s.ledger.Finalize(ctx, txID, outcome); err != nil {
			return err
		}
		changed = true
		return s.emitWithdrawal(ctx, "balance.withdrawal_"+string(outcome), t.HouseholdID, &Withdrawal{
			TransactionID: t.ID,
			AmountCents:   t.AmountCents,
			Status:        outcome,
		})
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.InfoContext(ctx, "withdrawal settled",
			"request_id", requestcontext.RequestID(ctx),
			"household_id", householdID,
			"transaction_id", txID,
			"status", outcome,
		)
	}
	return changed, nil
}

// ReverseWithdrawal returns a completed withdrawal to the balance. A second
// reversal reports false.
func (s *Service) ReverseWithdrawal(ctx context.Context, txID id.TransactionID, reason string) (bool, error) {
	changed := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.withdrawal(ctx, txID, 0, "")
		if err != nil {
			return err
		}
		if t.Status != ledgermodels.StatusCompleted {
			return dErrors.Newf(dErrors.CodeConflict, "withdrawal is %s and cannot be reversed", t.Status)
		}
		if _, err := s.ledger.Reverse(ctx, txID, reason); err != nil {
			if dErrors.HasCode(err, dErrors.CodeConflict) {
				return nil
			}
			return err
		}
		changed = true
		return s.emitWithdrawal(ctx, "balance.withdrawal_reversed", t.HouseholdID, &Withdrawal{
			TransactionID: t.ID,
			AmountCents:   t.AmountCents,
			Status:        t.Status,
		})
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.InfoContext(ctx, "withdrawal reversed",
			"request_id", requestcontext.RequestID(ctx),
			"transaction_id", txID,
			"reason", reason,
		)
	}
	return changed, nil
}

// withdrawal loads txID and checks it is a withdrawal matching what the
// provider reported. Zero amounts and empty currencies are not reported.
func (s *Service) withdrawal(ctx context.Context, txID id.TransactionID, amountCents int64, currency string) (*ledgermodels.Transaction, error) {
	t, err := s.ledger.Find(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.Type != ledgermodels.TypeFunding || t.Direction != ledgermodels.DirectionOut {
		return nil, dErrors.Newf(dErrors.CodeConflict, "transaction %s is not a withdrawal", txID)
	}
	if amountCents > 0 && amountCents != t.AmountCents {
		return nil, dErrors.Newf(dErrors.CodeConflict, "withdrawal amount mismatch: entry %d, provider %d", t.AmountCents, amountCents)
	}
	if currency != "" {
		want, err := s.households.Currency(ctx, t.HouseholdID)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(currency, want) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "withdrawal currency mismatch: entry %s, provider %s", want, currency)
		}
	}
	return t, nil
}

func (s *Service) emitWithdrawal(ctx context.Context, eventType string, householdID id.HouseholdID, w *Withdrawal) error {
	if s.events == nil {
		return nil
	}
	return s.events.Emit(ctx, eventType, w.TransactionID.String(), map[string]any{
		"household_id":   householdID,
		"transaction_id": w.TransactionID,
		"amount_cents":   w.AmountCents,
		"status":         w.Status,
	})
}
