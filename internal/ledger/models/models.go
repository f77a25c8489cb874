package models

import (
	"time"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/pagination"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func (d Direction) IsValid() bool { return d == DirectionIn || d == DirectionOut }

type Type string

const (
	TypeFunding    Type = "funding"
	TypePayout     Type = "payout"
	TypeReversal   Type = "reversal"
	TypeAdjustment Type = "adjustment"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeFunding, TypePayout, TypeReversal, TypeAdjustment:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Transaction is an immutable ledger entry. The only permitted change is the
// single move from pending to a terminal status.
type Transaction struct {
	ID                id.TransactionID  `json:"id"`
	HouseholdID       id.HouseholdID    `json:"household_id"`
	ProfileID         *id.ProfileID     `json:"profile_id,omitempty"`
	RequestID         *id.RequestID     `json:"request_id,omitempty"`
	PayoutID          *id.PayoutID      `json:"payout_id,omitempty"`
	ReversalOf        *id.TransactionID `json:"reversal_of,omitempty"`
	AmountCents       int64             `json:"amount_cents"`
	Direction         Direction         `json:"direction"`
	Type              Type              `json:"type"`
	Status            Status            `json:"status"`
	Description       string            `json:"description,omitempty"`
	ExternalReference string            `json:"external_reference,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Finalize moves a pending entry to outcome. It reports false when the entry
// already holds outcome, and an invariant violation for any other terminal.
func (t *Transaction) Finalize(outcome Status, now time.Time) (bool, error) {
	if !outcome.IsTerminal() {
		return false, dErrors.Newf(dErrors.CodeInvariantViolation, "%q is not a terminal outcome", outcome)
	}
	if t.Status == outcome {
		return false, nil
	}
	if t.Status != StatusPending {
		return false, dErrors.Newf(dErrors.CodeInvariantViolation, "transaction already %s, cannot mark %s", t.Status, outcome)
	}
	t.Status = outcome
	t.UpdatedAt = now
	return true, nil
}

// CanReverse reports whether a reversal entry may be created for t.
func (t *Transaction) CanReverse() error {
	if t.Direction != DirectionOut || t.Status != StatusCompleted {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "only completed out entries can be reversed (entry is %s %s)", t.Status, t.Direction)
	}
	return nil
}

func (t *Transaction) Cursor() pagination.Cursor {
	return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID.String()}
}

// Projection is the per-household running total, updated in the same
// transaction as every entry write.
type Projection struct {
	HouseholdID  id.HouseholdID
	CompletedIn  int64
	CompletedOut int64
	PendingIn    int64
	PendingOut   int64
	Version      int64
	UpdatedAt    time.Time
}

// Balance is completed in minus completed out.
func (p *Projection) Balance() int64 { return p.CompletedIn - p.CompletedOut }

// Available is what new reservations may draw on.
func (p *Projection) Available() int64 { return p.Balance() - p.PendingOut }

// ApplyPending accounts for a new pending entry. Out entries must fit within
// the available balance.
func (p *Projection) ApplyPending(t *Transaction) error {
	switch t.Direction {
	case DirectionOut:
		if t.AmountCents > p.Available() {
			return dErrors.New(dErrors.CodeInsufficientBalance, "insufficient available balance").
				WithDetails(map[string]any{"available_cents": p.Available(), "requested_cents": t.AmountCents})
		}
		p.PendingOut += t.AmountCents
	case DirectionIn:
		p.PendingIn += t.AmountCents
	}
	return nil
}

// ApplyFinalized releases a pending amount and books it when completed.
func (p *Projection) ApplyFinalized(t *Transaction) {
	switch t.Direction {
	case DirectionOut:
		p.PendingOut -= t.AmountCents
		if t.Status == StatusCompleted {
			p.CompletedOut += t.AmountCents
		}
	case DirectionIn:
		p.PendingIn -= t.AmountCents
		if t.Status == StatusCompleted {
			p.CompletedIn += t.AmountCents
		}
	}
}

// ApplyCompleted books an entry written directly as completed.
func (p *Projection) ApplyCompleted(t *Transaction) error {
	switch t.Direction {
	case DirectionOut:
		if t.AmountCents > p.Available() {
			return dErrors.New(dErrors.CodeInsufficientBalance, "insufficient available balance").
				WithDetails(map[string]any{"available_cents": p.Available(), "requested_cents": t.AmountCents})
		}
		p.CompletedOut += t.AmountCents
	case DirectionIn:
		p.CompletedIn += t.AmountCents
	}
	return nil
}

// Check verifies the projection invariants.
func (p *Projection) Check() error {
	if p.Balance() < 0 || p.Available() < 0 || p.PendingIn < 0 || p.PendingOut < 0 {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"projection out of range: balance=%d available=%d pending_in=%d pending_out=%d",
			p.Balance(), p.Available(), p.PendingIn, p.PendingOut)
	}
	return nil
}

// Balance is the read model returned to clients.
type Balance struct {
	HouseholdID     id.HouseholdID `json:"household_id"`
	BalanceCents    int64          `json:"balance_cents"`
	AvailableCents  int64          `json:"available_cents"`
	PendingInCents  int64          `json:"pending_in_cents"`
	PendingOutCents int64          `json:"pending_out_cents"`
	Currency        string         `json:"currency,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (p *Projection) ToBalance(currency string) *Balance {
	return &Balance{
		HouseholdID:     p.HouseholdID,
		BalanceCents:    p.Balance(),
		AvailableCents:  p.Available(),
		PendingInCents:  p.PendingIn,
		PendingOutCents: p.PendingOut,
		Currency:        currency,
		UpdatedAt:       p.UpdatedAt,
	}
}

// Filter narrows ledger listings.
type Filter struct {
	Direction Direction
	Type      Type
	Status    Status
	Cursor    *pagination.Cursor
	Limit     int
}

func (f Filter) Matches(t *Transaction) bool {
	if f.Direction != "" && t.Direction != f.Direction {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return f.Cursor.After(t.CreatedAt, t.ID.String())
}

// Entry describes a ledger write.
type Entry struct {
	HouseholdID       id.HouseholdID
	ProfileID         *id.ProfileID
	RequestID         *id.RequestID
	PayoutID          *id.PayoutID
	AmountCents       int64
	Direction         Direction
	Type              Type
	Description       string
	ExternalReference string
}

func (e Entry) Validate() error {
	if e.HouseholdID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "household_id is required")
	}
	if e.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	if !e.Direction.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid direction %q", e.Direction)
	}
	if !e.Type.IsValid() || e.Type == TypeReversal {
		return dErrors.Newf(dErrors.CodeValidation, "invalid entry type %q", e.Type)
	}
	return nil
}

// NewTransaction builds the entry's transaction in the given status.
func (e Entry) NewTransaction(status Status, now time.Time) *Transaction {
	return &Transaction{
		ID:                id.NewTransactionID(),
		HouseholdID:       e.HouseholdID,
		ProfileID:         e.ProfileID,
		RequestID:         e.RequestID,
		PayoutID:          e.PayoutID,
		AmountCents:       e.AmountCents,
		Direction:         e.Direction,
		Type:              e.Type,
		Status:            status,
		Description:       e.Description,
		ExternalReference: e.ExternalReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Reversal builds the compensating entry for a completed out entry.
func (t *Transaction) Reversal(reason string, now time.Time) *Transaction {
	original := t.ID
	return &Transaction{
		ID:                id.NewTransactionID(),
		HouseholdID:       t.HouseholdID,
		ProfileID:         t.ProfileID,
		RequestID:         t.RequestID,
		PayoutID:          t.PayoutID,
		ReversalOf:        &original,
		AmountCents:       t.AmountCents,
		Direction:         DirectionIn,
		Type:              TypeReversal,
		Status:            StatusCompleted,
		Description:       reason,
		ExternalReference: t.ExternalReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// VerifyReport compares the stored projection with one recomputed from the
// entries.
type VerifyReport struct {
	HouseholdID id.HouseholdID `json:"household_id"`
	Consistent  bool           `json:"consistent"`
	Stored      *Balance       `json:"stored"`
	Recomputed  *Balance       `json:"recomputed"`
}
