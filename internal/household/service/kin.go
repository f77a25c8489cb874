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

type CreateKinCommand struct {
	DisplayName     string
	FirstName       string
	LastName        string
	Email           string
	ProfileURL      string
	Relationship    models.Relationship
	LinkedProfileID *id.ProfileID
}

func (s *Service) ListKin(ctx context.Context, actor id.Actor) ([]*models.KinMember, error) {
	kin, err := s.store.ListKin(ctx, actor.HouseholdID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list kin members")
	}
	return kin, nil
}

// GetKin returns a live kin member of the caller's household.
func (s *Service) GetKin(ctx context.Context, actor id.Actor, kinID id.KinID) (*models.KinMember, error) {
	return s.ActiveKin(ctx, actor.HouseholdID, kinID)
}

// ActiveKin returns the kin member when it belongs to the household and has
// not been deleted. Deleted kin look exactly like missing kin.
func (s *Service) ActiveKin(ctx context.Context, householdID id.HouseholdID, kinID id.KinID) (*models.KinMember, error) {
	k, err := s.FindKin(ctx, householdID, kinID)
	if err != nil {
		return nil, err
	}
	if k.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeNotFound, "kin member not found")
	}
	return k, nil
}

// FindKin returns a kin member of the household, deleted or not.
func (s *Service) FindKin(ctx context.Context, householdID id.HouseholdID, kinID id.KinID) (*models.KinMember, error) {
	k, err := s.store.FindKin(ctx, kinID)
	if err != nil {
		return nil, notFound(err, "kin member not found")
	}
	if k.HouseholdID != householdID {
		return nil, dErrors.New(dErrors.CodeNotFound, "kin member not found")
	}
	return k, nil
}

func (s *Service) CreateKin(ctx context.Context, actor id.Actor, cmd CreateKinCommand) (*models.KinMember, error) {
	if err := actor.RequireOwner(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cmd.DisplayName)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "display_name is required")
	}
	if cmd.LinkedProfileID != nil {
		linked, err := s.Profile(ctx, *cmd.LinkedProfileID)
		if err != nil {
			return nil, err
		}
		if linked.HouseholdID != actor.HouseholdID {
			return nil, dErrors.New(dErrors.CodeValidation, "linked profile must belong to the household")
		}
	}
	now := requestcontext.Now(ctx)
	k := &models.KinMember{
		ID:               id.NewKinID(),
		HouseholdID:      actor.HouseholdID,
		DisplayName:      name,
		Relationship:     cmd.Relationship,
		AddedByProfileID: actor.ProfileID,
		LinkedProfileID:  cmd.LinkedProfileID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := k.Apply(models.KinPatch{
		FirstName:  &cmd.FirstName,
		LastName:   &cmd.LastName,
		Email:      &cmd.Email,
		ProfileURL: &cmd.ProfileURL,
	}, now); err != nil {
		return nil, err
	}
	if err := s.store.CreateKin(ctx, k); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create kin member")
	}
	s.logger.InfoContext(ctx, "kin member added",
		"request_id", requestcontext.RequestID(ctx),
		"household_id", actor.HouseholdID,
		"kin_id", k.ID,
	)
	return k, nil
}

func (s *Service) UpdateKin(ctx context.Context, actor id.Actor, kinID id.KinID, patch models.KinPatch) (*models.KinMember, error) {
	if err := actor.RequireOwner(); err != nil {
		return nil, err
	}
	var out *models.KinMember
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		k, err := s.ActiveKin(ctx, actor.HouseholdID, kinID)
		if err != nil {
			return err
		}
		if err := k.Apply(patch, requestcontext.Now(ctx)); err != nil {
			if dErrors.Is(err, dErrors.CodeInvariantViolation) {
				return dErrors.Translate(err, dErrors.CodeConflict)
			}
			return err
		}
		if err := s.store.UpdateKin(ctx, k); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update kin member")
		}
		out = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteKin soft-deletes a kin member. Existing requests keep their
// reference; new requests and payouts can no longer target it.
func (s *Service) DeleteKin(ctx context.Context, actor id.Actor, kinID id.KinID) error {
	if err := actor.RequireOwner(); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		k, err := s.ActiveKin(ctx, actor.HouseholdID, kinID)
		if err != nil {
			return err
		}
		if err := k.Delete(requestcontext.Now(ctx)); err != nil {
			return dErrors.Translate(err, dErrors.CodeConflict)
		}
		if err := s.store.UpdateKin(ctx, k); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete kin member")
		}
		s.logger.InfoContext(ctx, "kin member deleted",
			"request_id", requestcontext.RequestID(ctx),
			"household_id", actor.HouseholdID,
			"kin_id", kinID,
		)
		return nil
	})
}

// Payee is everything a payout needs to reach a kin member's bank.
type Payee struct {
	Kin      *models.KinMember
	Account  *models.PrimaryAccount
	Currency string
}

// PayeeFor resolves the bank account a payout to kinID would use. The kin
// member must be live and linked to a profile that has a primary account.
func (s *Service) PayeeFor(ctx context.Context, householdID id.HouseholdID, kinID id.KinID) (*Payee, error) {
	k, err := s.ActiveKin(ctx, householdID, kinID)
	if err != nil {
		return nil, err
	}
	if k.LinkedProfileID == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "kin member has no linked profile to pay into")
	}
	acct, err := s.store.FindPrimaryAccount(ctx, *k.LinkedProfileID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, "kin member has no primary account")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load primary account")
	}
	currency, err := s.Currency(ctx, householdID)
	if err != nil {
		return nil, err
	}
	return &Payee{Kin: k, Account: acct, Currency: currency}, nil
}
