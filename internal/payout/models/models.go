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
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid payout status %q", s)
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Payout is the transfer of an approved request's amount to a kin member's
// bank account. Its ledger reservation is TransactionID.
type Payout struct {
	ID                    id.PayoutID       `json:"id"`
	HouseholdID           id.HouseholdID    `json:"household_id"`
	RequestID             id.RequestID      `json:"request_id"`
	KinID                 id.KinID          `json:"kin_id"`
	InitiatorProfileID    id.ProfileID      `json:"initiator_profile_id"`
	AmountCents           int64             `json:"amount_cents"`
	Currency              string            `json:"currency"`
	Status                Status            `json:"status"`
	TransactionID         id.TransactionID  `json:"transaction_id"`
	ExternalTransactionID string            `json:"external_transaction_id,omitempty"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	Description           string            `json:"description,omitempty"`
	ReversedAt            *time.Time        `json:"reversed_at,omitempty"`
	ReversalTransactionID *id.TransactionID `json:"reversal_transaction_id,omitempty"`
	ConfirmationAlertedAt *time.Time        `json:"-"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

func (p *Payout) Cursor() pagination.Cursor {
	return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID.String()}
}

// Reference is the transfer reference sent to the rail. Providers echo it
// back in webhooks before the external id is known.
func (p *Payout) Reference() string { return p.ID.String() }

// IsReversed reports whether the provider clawed back a completed payout.
func (p *Payout) IsReversed() bool { return p.ReversedAt != nil }

// ApplyAccepted records the rail's acknowledgement. A pending payout moves to
// processing. A webhook matched by reference may have settled the payout
// first, in which case only the missing external id is filled in.
func (p *Payout) ApplyAccepted(externalID string, now time.Time) (bool, error) {
	if externalID == "" {
		return false, dErrors.New(dErrors.CodeInvariantViolation, "accepted payout needs an external transaction id")
	}
	if p.ExternalTransactionID != "" {
		if p.ExternalTransactionID == externalID {
			return false, nil
		}
		return false, dErrors.Newf(dErrors.CodeInvariantViolation, "payout already carries external id %s", p.ExternalTransactionID)
	}
	if p.Status == StatusPending {
		p.Status = StatusProcessing
	}
	p.ExternalTransactionID = externalID
	p.UpdatedAt = now
	return true, nil
}

// ApplyCompleted settles the payout. It reports false when already completed.
func (p *Payout) ApplyCompleted(now time.Time) (bool, error) {
	switch p.Status {
	case StatusCompleted:
		return false, nil
	case StatusPending, StatusProcessing:
		p.Status = StatusCompleted
		p.CompletedAt = &now
		p.UpdatedAt = now
		return true, nil
	}
	return false, dErrors.Newf(dErrors.CodeInvariantViolation, "payout is %s, cannot complete", p.Status)
}

// ApplyFailed marks the payout failed. It reports false when already failed.
// A completed payout is only undone by a reversal.
func (p *Payout) ApplyFailed(reason string, now time.Time) (bool, error) {
	switch p.Status {
	case StatusFailed:
		return false, nil
	case StatusPending, StatusProcessing:
		p.Status = StatusFailed
		p.FailureReason = reason
		p.UpdatedAt = now
		return true, nil
	}
	return false, dErrors.Newf(dErrors.CodeInvariantViolation, "payout is %s, cannot fail", p.Status)
}

// CanReverse reports whether a reversal may be recorded. The payout keeps
// its completed status and only gains the reversal annotation.
func (p *Payout) CanReverse() error {
	if p.Status != StatusCompleted {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "payout is %s, only completed payouts can be reversed", p.Status)
	}
	if p.IsReversed() {
		return dErrors.New(dErrors.CodeInvariantViolation, "payout has already been reversed")
	}
	return nil
}

func (p *Payout) ApplyReversal(reversalID id.TransactionID, now time.Time) {
	p.ReversedAt = &now
	p.ReversalTransactionID = &reversalID
	p.UpdatedAt = now
}

// Filter narrows payout listings. Cursor is exclusive.
type Filter struct {
	Status Status
	KinID  *id.KinID
	Cursor *pagination.Cursor
	Limit  int
}

func (f Filter) Matches(p *Payout) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.KinID != nil && p.KinID != *f.KinID {
		return false
	}
	return f.Cursor.After(p.CreatedAt, p.ID.String())
}

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobDone      JobStatus = "done"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// Job is the deferred execution of an approved request's payout.
type Job struct {
	ID                 id.JobID       `json:"id"`
	RequestID          id.RequestID   `json:"request_id"`
	HouseholdID        id.HouseholdID `json:"household_id"`
	InitiatorProfileID id.ProfileID   `json:"initiator_profile_id"`
	RunAt              time.Time      `json:"run_at"`
	Status             JobStatus      `json:"status"`
	Scheduled          bool           `json:"scheduled"`
	Attempts           int            `json:"attempts"`
	LastError          string         `json:"last_error,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func NewJob(requestID id.RequestID, householdID id.HouseholdID, initiator id.ProfileID, runAt, now time.Time) *Job {
	return &Job{
		ID:                 id.NewJobID(),
		RequestID:          requestID,
		HouseholdID:        householdID,
		InitiatorProfileID: initiator,
		RunAt:              runAt,
		Status:             JobQueued,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IdempotencyKey is the key the scheduler executes the job under, so a
// crashed run can be retried without a second payout.
func (j *Job) IdempotencyKey() string { return "job:" + j.ID.String() }

// Actor is the approving owner the job runs as.
func (j *Job) Actor() id.Actor {
	return id.Actor{ProfileID: j.InitiatorProfileID, HouseholdID: j.HouseholdID, Role: id.RoleOwner}
}

func (j *Job) Finish(status JobStatus, now time.Time) {
	j.Status = status
	j.UpdatedAt = now
}

// RecordFailure counts a failed run. The job stays queued with a later run_at
// until maxAttempts is reached, then it is failed.
func (j *Job) RecordFailure(reason string, retryAt time.Time, maxAttempts int, now time.Time) {
	j.Attempts++
	j.LastError = reason
	j.UpdatedAt = now
	if j.Attempts >= maxAttempts {
		j.Status = JobFailed
		return
	}
	j.RunAt = retryAt
}
