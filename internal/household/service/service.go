package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"kinledger/internal/household/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
)

type Store interface {
	CreateHousehold(ctx context.Context, h *models.Household) error
	FindHousehold(ctx context.Context, householdID id.HouseholdID) (*models.Household, error)
	UpdateHousehold(ctx context.Context, h *models.Household) error
	CreateProfile(ctx context.Context, p *models.Profile) error
	FindProfile(ctx context.Context, profileID id.ProfileID) (*models.Profile, error)
	CreateKin(ctx context.Context, k *models.KinMember) error
	UpdateKin(ctx context.Context, k *models.KinMember) error
	FindKin(ctx context.Context, kinID id.KinID) (*models.KinMember, error)
	ListKin(ctx context.Context, householdID id.HouseholdID) ([]*models.KinMember, error)
	FindPrimaryAccount(ctx context.Context, profileID id.ProfileID) (*models.PrimaryAccount, error)
	UpsertPrimaryAccount(ctx context.Context, a *models.PrimaryAccount) error
	FindSubscription(ctx context.Context, householdID id.HouseholdID) (*models.Subscription, error)
	FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
}

// LedgerInspector tells whether a household already has money history.
type LedgerInspector interface {
	HasEntries(ctx context.Context, householdID id.HouseholdID) (bool, error)
}

// Service owns households and their members, payees and accounts.
type Service struct {
	store   Store
	tx      txcontext.Runner
	ledger  LedgerInspector
	billing Billing
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithBilling(b Billing) Option {
	return func(s *Service) { s.billing = b }
}

func New(store Store, tx txcontext.Runner, ledger LedgerInspector, opts ...Option) *Service {
	s := &Service{store: store, tx: tx, ledger: ledger, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProvisionCommand creates a household with its owner.
type ProvisionCommand struct {
	HouseholdName string
	Currency      string
	OwnerEmail    string
	OwnerName     string
}

func (s *Service) Provision(ctx context.Context, cmd ProvisionCommand) (*models.Me, error) {
	name := strings.TrimSpace(cmd.HouseholdName)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "household name is required")
	}
	currency, err := models.NormalizeCurrency(cmd.Currency)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	h := &models.Household{
		ID:        id.NewHouseholdID(),
		Name:      name,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner, err := newProfile(h.ID, cmd.OwnerEmail, cmd.OwnerName, id.RoleOwner, now)
	if err != nil {
		return nil, err
	}
	h.OwnerProfileID = owner.ID

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateHousehold(ctx, h); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create household")
		}
		return s.createProfile(ctx, owner)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "household provisioned",
		"request_id", requestcontext.RequestID(ctx),
		"household_id", h.ID,
		"owner_profile_id", owner.ID,
	)
	return &models.Me{Profile: owner, Household: h}, nil
}

// AddProfile adds a member login to an existing household.
func (s *Service) AddProfile(ctx context.Context, householdID id.HouseholdID, email, fullName string, role id.Role) (*models.Profile, error) {
	if !role.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid role %q", role)
	}
	if _, err := s.household(ctx, householdID); err != nil {
		return nil, err
	}
	p, err := newProfile(householdID, email, fullName, role, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.createProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func newProfile(householdID id.HouseholdID, email, fullName string, role id.Role, now time.Time) (*models.Profile, error) {
	email, err := models.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "full_name is required")
	}
	return &models.Profile{
		ID:          id.NewProfileID(),
		HouseholdID: householdID,
		Email:       email,
		FullName:    fullName,
		Role:        role,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) createProfile(ctx context.Context, p *models.Profile) error {
	if err := s.store.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeConflict, "email is already registered")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create profile")
	}
	return nil
}

func (s *Service) household(ctx context.Context, householdID id.HouseholdID) (*models.Household, error) {
	h, err := s.store.FindHousehold(ctx, householdID)
	if err != nil {
		return nil, notFound(err, "household not found")
	}
	return h, nil
}

// Profile returns a profile by id.
func (s *Service) Profile(ctx context.Context, profileID id.ProfileID) (*models.Profile, error) {
	p, err := s.store.FindProfile(ctx, profileID)
	if err != nil {
		return nil, notFound(err, "profile not found")
	}
	return p, nil
}

// Me returns the caller's profile and household.
func (s *Service) Me(ctx context.Context, actor id.Actor) (*models.Me, error) {
	p, err := s.Profile(ctx, actor.ProfileID)
	if err != nil {
		return nil, err
	}
	if p.HouseholdID != actor.HouseholdID {
		return nil, dErrors.New(dErrors.CodeForbidden, "profile does not belong to this household")
	}
	h, err := s.household(ctx, actor.HouseholdID)
	if err != nil {
		return nil, err
	}
	return &models.Me{Profile: p, Household: h}, nil
}

// Currency implements the ledger's currency lookup.
func (s *Service) Currency(ctx context.Context, householdID id.HouseholdID) (string, error) {
	h, err := s.household(ctx, householdID)
	if err != nil {
		return "", err
	}
	return h.Currency, nil
}

// HouseholdPatch carries the mutable household fields.
type HouseholdPatch struct {
	Name     *string
	Currency *string
}

// UpdateHousehold renames the household or changes its currency. Currency is
// frozen once the ledger has any entry.
func (s *Service) UpdateHousehold(ctx context.Context, actor id.Actor, patch HouseholdPatch) (*models.Household, error) {
	if err := actor.RequireOwner(); err != nil {
		return nil, err
	}
	var out *models.Household
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		h, err := s.household(ctx, actor.HouseholdID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return dErrors.New(dErrors.CodeValidation, "name cannot be empty")
			}
			h.Name = name
		}
		if patch.Currency != nil {
			currency, err := models.NormalizeCurrency(*patch.Currency)
			if err != nil {
				return err
			}
			if currency != h.Currency {
				has, err := s.ledger.HasEntries(ctx, h.ID)
				if err != nil {
					return err
				}
				if has {
					return dErrors.New(dErrors.CodeConflict, "currency cannot change once the ledger has entries")
				}
				h.Currency = currency
			}
		}
		h.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.UpdateHousehold(ctx, h); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update household")
		}
		out = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
