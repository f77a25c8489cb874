// Package billing creates Stripe Checkout and Billing Portal sessions for
// subscriptions and balance top-ups.
package billing

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v84"
	portalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	checksession "github.com/stripe/stripe-go/v84/checkout/session"

	"kinledger/internal/platform/config"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
)

// Metadata keys copied onto sessions so webhooks can be matched back.
const (
	MetaHouseholdID   = "household_id"
	MetaTransactionID = "transaction_id"
	MetaTier          = "tier"
	MetaPurpose       = "purpose"

	PurposeTopup        = "topup"
	PurposeSubscription = "subscription"
)

type SubscriptionCheckout struct {
	HouseholdID id.HouseholdID
	Tier        string
	Email       string
	CustomerID  string
}

type TopupCheckout struct {
	HouseholdID   id.HouseholdID
	TransactionID id.TransactionID
	AmountCents   int64
	Currency      string
	Email         string
}

// Session is a hosted page the client is redirected to.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Client struct {
	cfg config.Stripe
}

func NewClient(cfg config.Stripe) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

func (c *Client) priceFor(tier string) (string, error) {
	var price string
	switch tier {
	case "monthly":
		price = c.cfg.PriceMonthly
	case "quarterly":
		price = c.cfg.PriceQuarterly
	case "yearly":
		price = c.cfg.PriceYearly
	}
	if price == "" {
		return "", dErrors.Newf(dErrors.CodeValidation, "no price configured for tier %q", tier)
	}
	return price, nil
}

func (c *Client) CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckout) (*Session, error) {
	if c.cfg.SecretKey == "" {
		return nil, dErrors.New(dErrors.CodeServiceUnavailable, "billing is not configured")
	}
	price, err := c.priceFor(in.Tier)
	if err != nil {
		return nil, err
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(in.HouseholdID.String()),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetaHouseholdID: in.HouseholdID.String(), MetaTier: in.Tier},
		},
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	} else if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}
	params.Context = ctx
	params.AddMetadata(MetaPurpose, PurposeSubscription)
	params.AddMetadata(MetaHouseholdID, in.HouseholdID.String())
	params.AddMetadata(MetaTier, in.Tier)

	sess, err := checksession.New(params)
	if err != nil {
		return nil, dErrors.Wrap(fmt.Errorf("create checkout session: %w", err), dErrors.CodePaymentError, "failed to start checkout")
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// CreateTopupCheckout opens a one-off payment whose client reference is the
// pending ledger entry it will fund.
func (c *Client) CreateTopupCheckout(ctx context.Context, in TopupCheckout) (*Session, error) {
	if c.cfg.SecretKey == "" {
		return nil, dErrors.New(dErrors.CodeServiceUnavailable, "billing is not configured")
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(in.Currency)),
					UnitAmount: stripe.Int64(in.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Household balance top-up"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(in.TransactionID.String()),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				MetaPurpose:       PurposeTopup,
				MetaHouseholdID:   in.HouseholdID.String(),
				MetaTransactionID: in.TransactionID.String(),
			},
		},
	}
	if in.Email != "" {
		params.CustomerEmail = stripe.String(in.Email)
	}
	params.Context = ctx
	params.AddMetadata(MetaPurpose, PurposeTopup)
	params.AddMetadata(MetaHouseholdID, in.HouseholdID.String())
	params.AddMetadata(MetaTransactionID, in.TransactionID.String())

	sess, err := checksession.New(params)
	if err != nil {
		return nil, dErrors.Wrap(fmt.Errorf("create top-up session: %w", err), dErrors.CodePaymentError, "failed to start top-up")
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID string) (*Session, error) {
	if c.cfg.SecretKey == "" {
		return nil, dErrors.New(dErrors.CodeServiceUnavailable, "billing is not configured")
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.cfg.PortalReturnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return nil, dErrors.Wrap(fmt.Errorf("create billing portal session: %w", err), dErrors.CodePaymentError, "failed to open billing portal")
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}
