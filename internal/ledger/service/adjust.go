package service

import (
	"context"
	"strings"

	"kinledger/internal/idempotency"
	"kinledger/internal/ledger/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
)

// AdjustCommand is an owner's manual correction of the household balance.
type AdjustCommand struct {
	Actor          id.Actor
	AmountCents    int64
	Direction      models.Direction
	Description    string
	IdempotencyKey string
}

type adjustInput struct {
	AmountCents int64            `json:"amount_cents"`
	Direction   models.Direction `json:"direction"`
	Description string           `json:"description"`
}

// Adjust records a completed adjustment entry, at most once per key.
func (s *Service) Adjust(ctx context.Context, cmd AdjustCommand) (*models.Transaction, error) {
	if err := cmd.Actor.RequireOwner(); err != nil {
		return nil, err
	}
	if s.idempotency == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "adjustments are not configured")
	}
	if strings.TrimSpace(cmd.Description) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "description is required for adjustments")
	}
	profileID := cmd.Actor.ProfileID
	entry := models.Entry{
		HouseholdID: cmd.Actor.HouseholdID,
		ProfileID:   &profileID,
		AmountCents: cmd.AmountCents,
		Direction:   cmd.Direction,
		Type:        models.TypeAdjustment,
		Description: cmd.Description,
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	scope := idempotency.Scope{Kind: idempotency.KindLedgerAdjust, ProfileID: profileID}
	input := adjustInput{AmountCents: cmd.AmountCents, Direction: cmd.Direction, Description: cmd.Description}

	var out *models.Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		t, _, err := idempotency.Do(ctx, s.idempotency, scope, cmd.IdempotencyKey, input,
			func(ctx context.Context) (*models.Transaction, error) {
				return s.Record(ctx, entry)
			})
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
