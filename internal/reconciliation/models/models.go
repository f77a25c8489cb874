package models

import (
	"strings"
	"time"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
)

// Outcome is what a provider event says happened.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeReversed  Outcome = "reversed"
	OutcomeIgnored   Outcome = "ignored"
)

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeReversed, OutcomeIgnored:
		return true
	}
	return false
}

// Target is the kind of record an event settles.
type Target string

const (
	TargetPayout       Target = "payout"
	TargetFunding      Target = "funding"
	TargetWithdrawal   Target = "withdrawal"
	TargetSubscription Target = "subscription"
)

// Event is a verified provider notification in provider-neutral form.
type Event struct {
	Provider          string  `json:"provider"`
	EventID           string  `json:"event_id"`
	Type              string  `json:"type"`
	Target            Target  `json:"target"`
	Outcome           Outcome `json:"outcome"`
	ExternalReference string  `json:"external_reference,omitempty"`
	Reference         string  `json:"reference,omitempty"`
	HouseholdID       string  `json:"household_id,omitempty"`
	AmountCents       int64   `json:"amount_cents,omitempty"`
	Currency          string  `json:"currency,omitempty"`
	Reason            string  `json:"reason,omitempty"`

	Subscription *SubscriptionChange `json:"subscription,omitempty"`
}

// SubscriptionChange carries the subscription fields of a billing event.
type SubscriptionChange struct {
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string     `json:"external_customer_id,omitempty"`
	Tier                   string     `json:"tier,omitempty"`
	Status                 string     `json:"status,omitempty"`
	PeriodStart            *time.Time `json:"period_start,omitempty"`
	PeriodEnd              *time.Time `json:"period_end,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Provider) == "" || strings.TrimSpace(e.EventID) == "" {
		return dErrors.New(dErrors.CodeValidation, "event is missing provider or event id")
	}
	if !e.Outcome.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid outcome %q", e.Outcome)
	}
	if e.Outcome == OutcomeIgnored {
		return nil
	}
	switch e.Target {
	case TargetPayout:
		if e.ExternalReference == "" && e.Reference == "" {
			return dErrors.New(dErrors.CodeValidation, "payout event has no reference")
		}
	case TargetFunding, TargetWithdrawal:
		if e.Reference == "" {
			return dErrors.Newf(dErrors.CodeValidation, "%s event has no transaction reference", e.Target)
		}
	case TargetSubscription:
		if e.Subscription == nil {
			return dErrors.New(dErrors.CodeValidation, "subscription event has no subscription")
		}
	default:
		return dErrors.Newf(dErrors.CodeValidation, "invalid target %q", e.Target)
	}
	return nil
}

// Disposition records what processing did with an event.
type Disposition string

const (
	DispositionApplied    Disposition = "applied"
	DispositionNoop       Disposition = "noop"
	DispositionIgnored    Disposition = "ignored"
	DispositionOrphaned   Disposition = "orphaned"
	DispositionConflict   Disposition = "conflict"
	DispositionDuplicate  Disposition = "duplicate"
	DispositionUnverified Disposition = "unverified"
)

// ProcessedEvent marks a (provider, event_id) pair as handled.
type ProcessedEvent struct {
	Provider    string      `json:"provider"`
	EventID     string      `json:"event_id"`
	Disposition Disposition `json:"disposition"`
	TargetID    string      `json:"target_id,omitempty"`
	ProcessedAt time.Time   `json:"processed_at"`
}

type OrphanStatus string

const (
	OrphanPending  OrphanStatus = "pending"
	OrphanResolved OrphanStatus = "resolved"
	OrphanExpired  OrphanStatus = "expired"
)

// Orphan is an event held back until the record it targets can take it:
// an unknown payout, or a reversal that overtook its completion.
type Orphan struct {
	ID                id.OrphanID  `json:"id"`
	Provider          string       `json:"provider"`
	EventID           string       `json:"event_id"`
	Target            Target       `json:"target"`
	Reference         string       `json:"reference,omitempty"`
	ExternalReference string       `json:"external_reference,omitempty"`
	Outcome           Outcome      `json:"outcome"`
	Reason            string       `json:"reason"`
	Event             Event        `json:"event"`
	Status            OrphanStatus `json:"status"`
	ReceivedAt        time.Time    `json:"received_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
	ResolvedAt        *time.Time   `json:"resolved_at,omitempty"`
}

func NewOrphan(e Event, reason string, now time.Time, retention time.Duration) *Orphan {
	return &Orphan{
		ID:                id.NewOrphanID(),
		Provider:          e.Provider,
		EventID:           e.EventID,
		Target:            e.Target,
		Reference:         e.Reference,
		ExternalReference: e.ExternalReference,
		Outcome:           e.Outcome,
		Reason:            reason,
		Event:             e,
		Status:            OrphanPending,
		ReceivedAt:        now,
		ExpiresAt:         now.Add(retention),
	}
}

// Matches reports whether the orphan targets the payout known by reference
// or external id.
func (o *Orphan) Matches(reference, externalID string) bool {
	if o.Target != TargetPayout {
		return false
	}
	return (reference != "" && o.Reference == reference) ||
		(externalID != "" && o.ExternalReference == externalID)
}

func (o *Orphan) Close(status OrphanStatus, now time.Time) {
	o.Status = status
	o.ResolvedAt = &now
}

// Result is returned to the webhook caller and logged.
type Result struct {
	Provider    string      `json:"provider"`
	EventID     string      `json:"event_id"`
	Disposition Disposition `json:"disposition"`
	TargetID    string      `json:"target_id,omitempty"`
}
