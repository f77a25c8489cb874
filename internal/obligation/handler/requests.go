package handler

import (
	"strings"
	"time"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
)

type CreateRequest struct {
	KinID           string `json:"kin_id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	AmountCents     int64  `json:"amount_cents"`
	Priority        string `json:"priority"`
	AmountType      string `json:"amount_type"`
	DueDate         string `json:"due_date"`
	RecurrenceRule  string `json:"recurrence_rule"`
	RecurrenceEndAt string `json:"recurrence_end_at"`
	IdempotencyKey  string `json:"idempotency_key"`

	kinID   id.KinID
	dueDate *time.Time
	endAt   *time.Time
}

func (r *CreateRequest) Validate() error {
	kinID, err := id.ParseKinID(r.KinID)
	if err != nil {
		return err
	}
	r.kinID = kinID
	if strings.TrimSpace(r.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if r.AmountCents <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	if r.dueDate, err = parseDate(r.DueDate, "due_date"); err != nil {
		return err
	}
	if r.endAt, err = parseDate(r.RecurrenceEndAt, "recurrence_end_at"); err != nil {
		return err
	}
	return requireKey(r.IdempotencyKey)
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	return nil, dErrors.Newf(dErrors.CodeValidation, "%s must be an RFC 3339 timestamp or a YYYY-MM-DD date", field)
}

// DecisionRequest is the body of approve, reject and cancel.
type DecisionRequest struct {
	Notes          string `json:"notes"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (r *DecisionRequest) Validate() error {
	if r.Notes == "" {
		r.Notes = r.Reason
	}
	return requireKey(r.IdempotencyKey)
}

func requireKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency_key is required")
	}
	return nil
}
