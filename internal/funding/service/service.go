package service

import (
	"context"
	"log/slog"

	"kinledger/internal/billing"
	hhmodels "kinledger/internal/household/models"
	"kinledger/internal/idempotency"
	ledgermodels "kinledger/internal/ledger/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
)

type Ledger interface {
	RecordPending(ctx context.Context, e ledgermodels.Entry) (*ledgermodels.Transaction, error)
	Finalize(ctx context.Context, txID id.TransactionID, outcome ledgermodels.Status) (*ledgermodels.Transaction, error)
	Reverse(ctx context.Context, originalID id.TransactionID, reason string) (*ledgermodels.Transaction, error)
	Get(ctx context.Context, householdID id.HouseholdID, txID id.TransactionID) (*ledgermodels.Transaction, error)
	Find(ctx context.Context, txID id.TransactionID) (*ledgermodels.Transaction, error)
}

type Households interface {
	Profile(ctx context.Context, profileID id.ProfileID) (*hhmodels.Profile, error)
	Currency(ctx context.Context, householdID id.HouseholdID) (string, error)
	GetPrimaryAccount(ctx context.Context, actor id.Actor) (*hhmodels.PrimaryAccount, error)
}

type Events interface {
	Emit(ctx context.Context, eventType, key string, payload any) error
}

// Service moves money into and out of household balances. A top-up is a
// pending funding entry until the card provider reports the outcome. A
// withdrawal is a pending out entry until the transfer rail does.
type Service struct {
	tx          txcontext.Runner
	ledger      Ledger
	households  Households
	checkout    Checkout
	transfers   Transfers
	idempotency *idempotency.Service
	events      Events
	logger      *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEvents(e Events) Option {
	return func(s *Service) { s.events = e }
}

// WithTransfers enables withdrawals through t.
func WithTransfers(t Transfers) Option {
	return func(s *Service) { s.transfers = t }
}

func New(tx txcontext.Runner, ledger Ledger, households Households, checkout Checkout, idem *idempotency.Service, opts ...Option) *Service {
	s := &Service{
		tx:          tx,
		ledger:      ledger,
		households:  households,
		checkout:    checkout,
		idempotency: idem,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type InitiateCommand struct {
	Actor          id.Actor
	AmountCents    int64
	IdempotencyKey string
}

type initiateInput struct {
	AmountCents int64 `json:"amount_cents"`
}

// Topup is what the client needs to complete a payment.
type Topup struct {
	TransactionID id.TransactionID `json:"transaction_id"`
	AmountCents   int64            `json:"amount_cents"`
	Currency      string           `json:"currency"`
	SessionID     string           `json:"session_id"`
	PaymentURL    string           `json:"payment_url"`
}

// Initiate records a pending funding entry and opens a checkout session
// referencing it. A provider failure rolls the entry back.
func (s *Service) Initiate(ctx context.Context, cmd InitiateCommand) (*Topup, error) {
	if err := cmd.Actor.RequireOwner(); err != nil {
		return nil, err
	}
	if cmd.AmountCents <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	scope := idempotency.Scope{Kind: idempotency.KindTopupInitiate, ProfileID: cmd.Actor.ProfileID}

	var out *Topup
	var replayed bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		out, replayed, err = idempotency.Do(ctx, s.idempotency, scope, cmd.IdempotencyKey, initiateInput{AmountCents: cmd.AmountCents},
			func(ctx context.Context) (*Topup, error) {
				return s.initiate(ctx, cmd)
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.logger.InfoContext(ctx, "top-up initiated",
			"request_id", requestcontext.RequestID(ctx),
			"household_id", cmd.Actor.HouseholdID,
			"transaction_id", out.TransactionID,
			"amount_cents", out.AmountCents,
		)
	}
	return out, nil
}

func (s *Service) initiate(ctx context.Context, cmd InitiateCommand) (*Topup, error) {
	currency, err := s.households.Currency(ctx, cmd.Actor.HouseholdID)
	if err != nil {
		return nil, err
	}
	profile, err := s.households.Profile(ctx, cmd.Actor.ProfileID)
	if err != nil {
		return nil, err
	}
	profileID := cmd.Actor.ProfileID
	t, err := s.ledger.RecordPending(ctx, ledgermodels.Entry{
		HouseholdID: cmd.Actor.HouseholdID,
		ProfileID:   &profileID,
		AmountCents: cmd.AmountCents,
		Direction:   ledgermodels.DirectionIn,
		Type:        ledgermodels.TypeFunding,
		Description: "Balance top-up",
	})
	if err != nil {
		return nil, err
	}
	sess, err := s.checkout.CreateTopupCheckout(ctx, billing.TopupCheckout{
		HouseholdID:   cmd.Actor.HouseholdID,
		TransactionID: t.ID,
		AmountCents:   cmd.AmountCents,
		Currency:      currency,
		Email:         profile.Email,
	})
	if err != nil {
		return nil, err
	}
	return &Topup{
		TransactionID: t.ID,
		AmountCents:   t.AmountCents,
		Currency:      currency,
		SessionID:     sess.ID,
		PaymentURL:    sess.URL,
	}, nil
}

// Settle applies a provider outcome to a pending top-up. It reports false
// when the entry already held the outcome. A reported amount that differs
// from the entry is rejected rather than applied.
func (s *Service) Settle(ctx context.Context, householdID id.HouseholdID, txID id.TransactionID, outcome ledgermodels.Status, amountCents int64) (bool, error) {
	changed := false
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, err := s.ledger.Get(ctx, householdID, txID)
		if err != nil {
			return err
		}
		if t.Type != ledgermodels.TypeFunding || t.Direction != ledgermodels.DirectionIn {
			return dErrors.Newf(dErrors.CodeConflict, "transaction %s is not a top-up", txID)
		}
		if amountCents > 0 && amountCents != t.AmountCents {
			return dErrors.Newf(dErrors.CodeConflict, "top-up amount mismatch: entry %d, provider %d", t.AmountCents, amountCents)
		}
		if t.Status == outcome {
			return nil
		}
		if _, err := s.ledger.Finalize(ctx, txID, outcome); err != nil {
			return err
		}
		changed = true
		if s.events == nil {
			return nil
		}
		return s.events.Emit(ctx, "balance.topup_"+string(outcome), txID.String(), map[string]any{
			"household_id":   householdID,
			"transaction_id": txID,
			"amount_cents":   t.AmountCents,
			"status":         outcome,
		})
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.InfoContext(ctx, "top-up settled",
			"request_id", requestcontext.RequestID(ctx),
			"household_id", householdID,
			"transaction_id", txID,
			"status", outcome,
		)
	}
	return changed, nil
}
