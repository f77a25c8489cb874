package provider

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"kinledger/internal/billing"
	"kinledger/internal/reconciliation/models"
)

const StripeName = "stripe"

// Stripe verifies Stripe-Signature and maps checkout, payment intent,
// subscription and invoice events onto top-ups and subscription status.
type Stripe struct {
	webhookSecret string
}

func NewStripe(webhookSecret string) *Stripe {
	return &Stripe{webhookSecret: webhookSecret}
}

func (s *Stripe) Name() string { return StripeName }

func (s *Stripe) Verify(header http.Header, body []byte) error {
	if s.webhookSecret == "" {
		return errUnverified("stripe webhook secret is not configured")
	}
	_, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return errUnverified("stripe signature verification failed: " + err.Error())
	}
	return nil
}

func (s *Stripe) Normalize(body []byte) (models.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return models.Event{}, errMalformed(err, "invalid stripe payload")
	}
	ev := models.Event{
		Provider: StripeName,
		EventID:  event.ID,
		Type:     string(event.Type),
		Outcome:  models.OutcomeIgnored,
	}
	if event.Data == nil {
		return ev, nil
	}
	raw := event.Data.Raw

	var err error
	switch ev.Type {
	case "checkout.session.completed":
		err = normalizeCheckout(raw, &ev)
	case "payment_intent.succeeded":
		err = normalizePaymentIntent(raw, &ev, models.OutcomeCompleted)
	case "payment_intent.payment_failed":
		err = normalizePaymentIntent(raw, &ev, models.OutcomeFailed)
	case "customer.subscription.created", "customer.subscription.updated":
		err = normalizeSubscription(raw, &ev, "")
	case "customer.subscription.deleted":
		err = normalizeSubscription(raw, &ev, "cancelled")
	case "invoice.payment_succeeded", "invoice.paid":
		err = normalizeInvoice(raw, &ev, "active")
	case "invoice.payment_failed":
		err = normalizeInvoice(raw, &ev, "expired")
	}
	if err != nil {
		return models.Event{}, errMalformed(err, "invalid stripe "+ev.Type+" object")
	}
	return ev, nil
}

func normalizeCheckout(raw json.RawMessage, ev *models.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return err
	}
	switch sess.Metadata[billing.MetaPurpose] {
	case billing.PurposeTopup:
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return nil
		}
		ev.Target = models.TargetFunding
		ev.Outcome = models.OutcomeCompleted
		ev.Reference = firstNonEmpty(sess.Metadata[billing.MetaTransactionID], sess.ClientReferenceID)
		ev.HouseholdID = sess.Metadata[billing.MetaHouseholdID]
		ev.AmountCents = sess.AmountTotal
		ev.Currency = strings.ToUpper(string(sess.Currency))
		ev.ExternalReference = sess.ID
	case billing.PurposeSubscription:
		change := &models.SubscriptionChange{
			Tier:   sess.Metadata[billing.MetaTier],
			Status: "active",
		}
		if sess.Subscription != nil {
			change.ExternalSubscriptionID = sess.Subscription.ID
		}
		if sess.Customer != nil {
			change.ExternalCustomerID = sess.Customer.ID
		}
		ev.Target = models.TargetSubscription
		ev.Outcome = models.OutcomeCompleted
		ev.HouseholdID = firstNonEmpty(sess.Metadata[billing.MetaHouseholdID], sess.ClientReferenceID)
		ev.Subscription = change
	}
	return nil
}

func normalizePaymentIntent(raw json.RawMessage, ev *models.Event, outcome models.Outcome) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return err
	}
	if pi.Metadata[billing.MetaPurpose] != billing.PurposeTopup {
		return nil
	}
	ev.Target = models.TargetFunding
	ev.Outcome = outcome
	ev.Reference = pi.Metadata[billing.MetaTransactionID]
	ev.HouseholdID = pi.Metadata[billing.MetaHouseholdID]
	ev.AmountCents = pi.Amount
	ev.Currency = strings.ToUpper(string(pi.Currency))
	ev.ExternalReference = pi.ID
	if pi.LastPaymentError != nil {
		ev.Reason = pi.LastPaymentError.Msg
	}
	return nil
}

// normalizeSubscription maps Stripe's subscription statuses onto the four
// tracked ones. forced overrides the reported status.
func normalizeSubscription(raw json.RawMessage, ev *models.Event, forced string) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}
	change := &models.SubscriptionChange{
		ExternalSubscriptionID: sub.ID,
		Tier:                   sub.Metadata[billing.MetaTier],
		Status:                 forced,
	}
	if change.Status == "" {
		change.Status = subscriptionStatus(string(sub.Status))
	}
	if sub.Customer != nil {
		change.ExternalCustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		change.PeriodStart = unixTime(item.CurrentPeriodStart)
		change.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	ev.Target = models.TargetSubscription
	ev.Outcome = models.OutcomeCompleted
	ev.HouseholdID = sub.Metadata[billing.MetaHouseholdID]
	ev.Subscription = change
	return nil
}

func normalizeInvoice(raw json.RawMessage, ev *models.Event, status string) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}
	if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil || inv.Parent.SubscriptionDetails.Subscription == nil {
		return nil
	}
	change := &models.SubscriptionChange{
		ExternalSubscriptionID: inv.Parent.SubscriptionDetails.Subscription.ID,
		Status:                 status,
	}
	if inv.Customer != nil {
		change.ExternalCustomerID = inv.Customer.ID
	}
	if status == "active" {
		change.PeriodStart = unixTime(inv.PeriodStart)
		change.PeriodEnd = unixTime(inv.PeriodEnd)
	}
	ev.Target = models.TargetSubscription
	ev.Outcome = models.OutcomeCompleted
	ev.Subscription = change
	return nil
}

func subscriptionStatus(s string) string {
	switch s {
	case "active":
		return "active"
	case "trialing":
		return "trial"
	case "canceled":
		return "cancelled"
	}
	return "expired"
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
