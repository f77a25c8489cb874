package service

import (
	"context"
	"errors"

	"kinledger/internal/billing"
	"kinledger/internal/household/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/sentinel"
	"kinledger/pkg/requestcontext"
)

// Billing opens hosted Stripe pages.
type Billing interface {
	CreateSubscriptionCheckout(ctx context.Context, in billing.SubscriptionCheckout) (*billing.Session, error)
	CreatePortalSession(ctx context.Context, customerID string) (*billing.Session, error)
}

// GetSubscription returns the household subscription.
func (s *Service) GetSubscription(ctx context.Context, actor id.Actor) (*models.Subscription, error) {
	sub, err := s.store.FindSubscription(ctx, actor.HouseholdID)
	if err != nil {
		return nil, notFound(err, "no subscription for this household")
	}
	return sub, nil
}

// StartCheckout opens a Stripe Checkout session for tier.
func (s *Service) StartCheckout(ctx context.Context, actor id.Actor, tier models.Tier) (*billing.Session, error) {
	if err := actor.RequireOwner(); err != nil {
		return nil, err
	}
	if s.billing == nil {
		return nil, dErrors.New(dErrors.CodeServiceUnavailable, "billing is not configured")
	}
	me, err := s.Me(ctx, actor)
	if err != nil {
		return nil, err
	}
	in := billing.SubscriptionCheckout{HouseholdID: actor.HouseholdID, Tier: string(tier), Email: me.Profile.Email}
	if sub, err := s.store.FindSubscription(ctx, actor.HouseholdID); err == nil {
		in.CustomerID = sub.ExternalCustomerID
	}
	return s.billing.CreateSubscriptionCheckout(ctx, in)
}

// OpenPortal opens the Stripe billing portal for the household customer.
func (s *Service) OpenPortal(ctx context.Context, actor id.Actor) (*billing.Session, error) {
	if err := actor.RequireOwner(); err != nil {
		return nil, err
	}
	if s.billing == nil {
		return nil, dErrors.New(dErrors.CodeServiceUnavailable, "billing is not configured")
	}
	sub, err := s.GetSubscription(ctx, actor)
	if err != nil {
		return nil, err
	}
	if sub.ExternalCustomerID == "" {
		return nil, dErrors.New(dErrors.CodeConflict, "subscription has no billing customer yet")
	}
	return s.billing.CreatePortalSession(ctx, sub.ExternalCustomerID)
}

// ApplySubscriptionUpdate records a provider-reported subscription status.
// It returns NOT_FOUND when the update cannot be tied to a household.
func (s *Service) ApplySubscriptionUpdate(ctx context.Context, u models.SubscriptionUpdate) (*models.Subscription, error) {
	var sub *models.Subscription
	var err error
	if u.ExternalSubscriptionID != "" {
		sub, err = s.store.FindSubscriptionByExternalID(ctx, u.ExternalSubscriptionID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
		}
	}
	if sub == nil && u.HouseholdID != nil {
		if _, err := s.household(ctx, *u.HouseholdID); err != nil {
			return nil, err
		}
		sub, err = s.store.FindSubscription(ctx, *u.HouseholdID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			sub = &models.Subscription{
				ID:          id.NewSubscriptionID(),
				HouseholdID: *u.HouseholdID,
				Tier:        models.TierMonthly,
				CreatedAt:   requestcontext.Now(ctx),
			}
		case err != nil:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
		}
	}
	if sub == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "subscription not found")
	}

	if u.Tier != "" {
		sub.Tier = u.Tier
	}
	if u.Status != "" {
		sub.Status = u.Status
	}
	if sub.Status == "" {
		sub.Status = models.SubscriptionTrial
	}
	if u.PeriodStart != nil {
		sub.CurrentPeriodStart = u.PeriodStart
	}
	if u.PeriodEnd != nil {
		sub.CurrentPeriodEnd = u.PeriodEnd
	}
	if u.ExternalSubscriptionID != "" {
		sub.ExternalSubscriptionID = u.ExternalSubscriptionID
	}
	if u.ExternalCustomerID != "" {
		sub.ExternalCustomerID = u.ExternalCustomerID
	}
	sub.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save subscription")
	}
	s.logger.InfoContext(ctx, "subscription updated",
		"request_id", requestcontext.RequestID(ctx),
		"household_id", sub.HouseholdID,
		"status", sub.Status,
		"tier", sub.Tier,
	)
	return sub, nil
}
