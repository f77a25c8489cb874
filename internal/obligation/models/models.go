package models

import (
	"strings"
	"time"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/pagination"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid status %q", s)
	}
	return st, nil
}

func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusRejected || s == StatusCancelled || s == StatusFailed
}

// Executable reports whether a payout may be started from s.
func (s Status) Executable() bool {
	return s == StatusApproved || s == StatusScheduled
}

// transitions lists the ordinary lifecycle moves. paid -> failed is not here:
// it is only reachable through ApplyReversal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:   {StatusScheduled, StatusProcessing, StatusCancelled, StatusFailed},
	StatusScheduled:  {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusPaid, StatusFailed},
	StatusPaid:       {},
	StatusFailed:     {},
	StatusRejected:   {},
	StatusCancelled:  {},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceOwner     Source = "owner"
	SourceDependent Source = "dependent"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	switch p := Priority(strings.ToLower(s)); p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid priority %q", s)
}

type AmountType string

const (
	AmountFixed    AmountType = "fixed"
	AmountVariable AmountType = "variable"
)

func ParseAmountType(s string) (AmountType, error) {
	if s == "" {
		return AmountFixed, nil
	}
	switch t := AmountType(strings.ToLower(s)); t {
	case AmountFixed, AmountVariable:
		return t, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid amount_type %q", s)
}

// PayoutSnapshot freezes who was paid and where at the moment a payout
// started, so later kin or account edits do not rewrite history.
type PayoutSnapshot struct {
	PayoutID      id.PayoutID `json:"payout_id"`
	KinID         id.KinID    `json:"kin_id"`
	KinName       string      `json:"kin_name"`
	AccountName   string      `json:"account_name"`
	AccountNumber string      `json:"account_number"`
	BankCode      string      `json:"bank_code"`
	BankName      string      `json:"bank_name"`
	AmountCents   int64       `json:"amount_cents"`
	Currency      string      `json:"currency"`
	CapturedAt    time.Time   `json:"captured_at"`
}

// Request is a household money obligation.
type Request struct {
	ID                 id.RequestID    `json:"id"`
	HouseholdID        id.HouseholdID  `json:"household_id"`
	KinID              id.KinID        `json:"kin_id"`
	RequesterProfileID id.ProfileID    `json:"requester_profile_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	AmountCents        int64           `json:"amount_cents"`
	Source             Source          `json:"source"`
	Status             Status          `json:"status"`
	Priority           Priority        `json:"priority"`
	AmountType         AmountType      `json:"amount_type"`
	DueDate            *time.Time      `json:"due_date,omitempty"`
	RecurrenceRule     string          `json:"recurrence_rule,omitempty"`
	RecurrenceEndAt    *time.Time      `json:"recurrence_end_at,omitempty"`
	RecurrenceParentID *id.RequestID   `json:"recurrence_parent_id,omitempty"`
	PayoutSnapshot     *PayoutSnapshot `json:"payout_snapshot,omitempty"`
	FailureReason      string          `json:"failure_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (r *Request) Cursor() pagination.Cursor {
	return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID.String()}
}

// CanTransition returns an invariant violation when r cannot move to to.
func (r *Request) CanTransition(to Status) error {
	if !r.Status.CanTransitionTo(to) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "request is %s and cannot become %s", r.Status, to)
	}
	return nil
}

func (r *Request) ApplyTransition(to Status, now time.Time) {
	r.Status = to
	r.UpdatedAt = now
}

// CanCancel reports whether actor may cancel r in its current state.
func (r *Request) CanCancel(actor id.Actor) error {
	if !actor.IsOwner() && actor.ProfileID != r.RequesterProfileID {
		return dErrors.New(dErrors.CodeForbidden, "only the owner or the requester may cancel this request")
	}
	return r.CanTransition(StatusCancelled)
}

// CanStartProcessing checks a payout may begin and that no snapshot exists.
func (r *Request) CanStartProcessing() error {
	if err := r.CanTransition(StatusProcessing); err != nil {
		return err
	}
	if r.PayoutSnapshot != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "payout snapshot already written")
	}
	return nil
}

func (r *Request) ApplyProcessing(snap PayoutSnapshot, now time.Time) {
	r.PayoutSnapshot = &snap
	r.ApplyTransition(StatusProcessing, now)
}

func (r *Request) ApplyFailure(reason string, now time.Time) {
	r.FailureReason = reason
	r.ApplyTransition(StatusFailed, now)
}

// CanReverse allows the single paid -> failed re-entry.
func (r *Request) CanReverse() error {
	if r.Status != StatusPaid {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "only paid requests can be reversed (request is %s)", r.Status)
	}
	return nil
}

// AuthorizesAmount checks a payout amount against the request: fixed amounts
// must match exactly, variable amounts may be lower.
func (r *Request) AuthorizesAmount(amount int64) error {
	if amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	switch r.AmountType {
	case AmountVariable:
		if amount > r.AmountCents {
			return dErrors.Newf(dErrors.CodeValidation, "amount exceeds the authorized %d", r.AmountCents)
		}
	default:
		if amount != r.AmountCents {
			return dErrors.Newf(dErrors.CodeValidation, "amount must equal the authorized %d", r.AmountCents)
		}
	}
	return nil
}

// Approval is one approval decision. Rows are only ever appended.
type Approval struct {
	ID                id.ApprovalID `json:"id"`
	RequestID         id.RequestID  `json:"request_id"`
	ApproverProfileID id.ProfileID  `json:"approver_profile_id"`
	ApprovedAt        time.Time     `json:"approved_at"`
	Notes             string        `json:"notes,omitempty"`
}

// KinRef is the kin member shown alongside a request.
type KinRef struct {
	ID          id.KinID `json:"id"`
	DisplayName string   `json:"display_name"`
	ProfileURL  *string  `json:"profile_url"`
}

// WithKin is a request with its kin member attached.
type WithKin struct {
	*Request
	Kin KinRef `json:"kin"`
}

// Detail is a request with its kin member and approvals.
type Detail struct {
	*Request
	Kin       KinRef      `json:"kin"`
	Approvals []*Approval `json:"approvals"`
}

type Filter struct {
	Status Status
	KinID  *id.KinID
	Cursor *pagination.Cursor
	Limit  int
}

func (f Filter) Matches(r *Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.KinID != nil && r.KinID != *f.KinID {
		return false
	}
	return f.Cursor.After(r.CreatedAt, r.ID.String())
}

func (r *Request) ApplyRejection(reason string, now time.Time) {
	r.FailureReason = reason
	r.ApplyTransition(StatusRejected, now)
}

// NextOccurrence builds the pending request that follows a paid recurring
// one. The chain always points at the first request of the series.
func (r *Request) NextOccurrence(due time.Time, now time.Time) *Request {
	parent := r.ID
	if r.RecurrenceParentID != nil {
		parent = *r.RecurrenceParentID
	}
	return &Request{
		ID:                 id.NewRequestID(),
		HouseholdID:        r.HouseholdID,
		KinID:              r.KinID,
		RequesterProfileID: r.RequesterProfileID,
		Title:              r.Title,
		Description:        r.Description,
		AmountCents:        r.AmountCents,
		Source:             r.Source,
		Status:             StatusPending,
		Priority:           r.Priority,
		AmountType:         r.AmountType,
		DueDate:            &due,
		RecurrenceRule:     r.RecurrenceRule,
		RecurrenceEndAt:    r.RecurrenceEndAt,
		RecurrenceParentID: &parent,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
