package service

import (
	"context"
	"errors"
	"strings"

	"kinledger/internal/household/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/sentinel"
	"kinledger/pkg/requestcontext"
)

type PrimaryAccountInput struct {
	AccountName   string
	AccountNumber string
	BankCode      string
	BankName      string
}

// GetPrimaryAccount returns the caller's own payout account.
func (s *Service) GetPrimaryAccount(ctx context.Context, actor id.Actor) (*models.PrimaryAccount, error) {
	a, err := s.store.FindPrimaryAccount(ctx, actor.ProfileID)
	if err != nil {
		return nil, notFound(err, "primary account not set")
	}
	return a, nil
}

// PutPrimaryAccount creates or replaces the caller's payout account.
func (s *Service) PutPrimaryAccount(ctx context.Context, actor id.Actor, in PrimaryAccountInput) (*models.PrimaryAccount, error) {
	now := requestcontext.Now(ctx)
	var out *models.PrimaryAccount
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.store.FindPrimaryAccount(ctx, actor.ProfileID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			a = &models.PrimaryAccount{ID: id.NewAccountID(), ProfileID: actor.ProfileID, CreatedAt: now}
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load primary account")
		}
		a.AccountName = strings.TrimSpace(in.AccountName)
		a.AccountNumber = strings.TrimSpace(in.AccountNumber)
		a.BankCode = strings.TrimSpace(in.BankCode)
		a.BankName = strings.TrimSpace(in.BankName)
		a.UpdatedAt = now
		if err := a.Validate(); err != nil {
			return err
		}
		if err := s.store.UpsertPrimaryAccount(ctx, a); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save primary account")
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "primary account saved",
		"request_id", requestcontext.RequestID(ctx),
		"profile_id", actor.ProfileID,
		"account", out.Masked(),
	)
	return out, nil
}
