package service

import (
	"context"
	"strings"
	"time"

	"kinledger/internal/idempotency"
	"kinledger/internal/obligation/models"
	"kinledger/internal/obligation/recurrence"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/requestcontext"
)

type CreateCommand struct {
	Actor           id.Actor
	KinID           id.KinID
	Title           string
	Description     string
	AmountCents     int64
	Priority        string
	AmountType      string
	DueDate         *time.Time
	RecurrenceRule  string
	RecurrenceEndAt *time.Time
	IdempotencyKey  string
}

// createInput is the fingerprinted part of a create call.
type createInput struct {
	KinID           id.KinID   `json:"kin_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	AmountCents     int64      `json:"amount_cents"`
	Priority        string     `json:"priority"`
	AmountType      string     `json:"amount_type"`
	DueDate         *time.Time `json:"due_date"`
	RecurrenceRule  string     `json:"recurrence_rule"`
	RecurrenceEndAt *time.Time `json:"recurrence_end_at"`
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.Request, error) {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if cmd.AmountCents <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "amount_cents must be greater than zero")
	}
	priority, err := models.ParsePriority(cmd.Priority)
	if err != nil {
		return nil, err
	}
	amountType, err := models.ParseAmountType(cmd.AmountType)
	if err != nil {
		return nil, err
	}
	endAt, err := recurrenceEnd(cmd)
	if err != nil {
		return nil, err
	}

	source := models.SourceDependent
	if cmd.Actor.IsOwner() {
		source = models.SourceOwner
	}
	scope := idempotency.Scope{Kind: idempotency.KindRequestCreate, ProfileID: cmd.Actor.ProfileID}
	input := createInput{
		KinID: cmd.KinID, Title: title, Description: cmd.Description, AmountCents: cmd.AmountCents,
		Priority: cmd.Priority, AmountType: cmd.AmountType, DueDate: cmd.DueDate,
		RecurrenceRule: cmd.RecurrenceRule, RecurrenceEndAt: cmd.RecurrenceEndAt,
	}

	var out *models.Request
	var replayed bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		out, replayed, err = idempotency.Do(ctx, s.idempotency, scope, cmd.IdempotencyKey, input,
			func(ctx context.Context) (*models.Request, error) {
				if _, err := s.kin.ActiveKin(ctx, cmd.Actor.HouseholdID, cmd.KinID); err != nil {
					return nil, err
				}
				now := requestcontext.Now(ctx)
				r := &models.Request{
					ID:                 id.NewRequestID(),
					HouseholdID:        cmd.Actor.HouseholdID,
					KinID:              cmd.KinID,
					RequesterProfileID: cmd.Actor.ProfileID,
					Title:              title,
					Description:        strings.TrimSpace(cmd.Description),
					AmountCents:        cmd.AmountCents,
					Source:             source,
					Status:             models.StatusPending,
					Priority:           priority,
					AmountType:         amountType,
					DueDate:            cmd.DueDate,
					RecurrenceRule:     strings.TrimSpace(cmd.RecurrenceRule),
					RecurrenceEndAt:    endAt,
					CreatedAt:          now,
					UpdatedAt:          now,
				}
				if err := s.store.Create(ctx, r); err != nil {
					return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
				}
				return r, s.emit(ctx, "request.created", r)
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.metrics.IncrementCreated(string(out.Source))
		s.logger.InfoContext(ctx, "request created",
			"request_id", requestcontext.RequestID(ctx),
			"obligation_id", out.ID,
			"household_id", out.HouseholdID,
			"source", out.Source,
			"amount_cents", out.AmountCents,
		)
	}
	return out, nil
}

// recurrenceEnd validates the rule and folds COUNT or UNTIL into the
// effective end of the series, keeping the earlier of that and the explicit
// recurrence_end_at.
func recurrenceEnd(cmd CreateCommand) (*time.Time, error) {
	if strings.TrimSpace(cmd.RecurrenceRule) == "" {
		if cmd.RecurrenceEndAt != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "recurrence_end_at requires recurrence_rule")
		}
		return nil, nil
	}
	rule, err := recurrence.Parse(cmd.RecurrenceRule)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid recurrence_rule: "+err.Error())
	}
	if cmd.DueDate == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "due_date is required for recurring requests")
	}
	end := cmd.RecurrenceEndAt
	if ruleEnd, ok := rule.EndAt(*cmd.DueDate); ok && (end == nil || ruleEnd.Before(*end)) {
		end = &ruleEnd
	}
	if end != nil && end.Before(*cmd.DueDate) {
		return nil, dErrors.New(dErrors.CodeValidation, "recurrence ends before the first due date")
	}
	return end, nil
}

type DecisionCommand struct {
	Actor          id.Actor
	RequestID      id.RequestID
	Notes          string
	IdempotencyKey string
}

type decisionInput struct {
	RequestID id.RequestID `json:"request_id"`
	Notes     string       `json:"notes,omitempty"`
}

// Approve records an approval and queues the payout job in one transaction.
func (s *Service) Approve(ctx context.Context, cmd DecisionCommand) (*models.Request, error) {
	if err := cmd.Actor.RequireOwner(); err != nil {
		return nil, err
	}
	scope := idempotency.Scope{Kind: idempotency.KindRequestApprove, ProfileID: cmd.Actor.ProfileID}
	input := decisionInput{RequestID: cmd.RequestID, Notes: cmd.Notes}

	var out *models.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		out, _, err = idempotency.Do(ctx, s.idempotency, scope, cmd.IdempotencyKey, input,
			func(ctx context.Context) (*models.Request, error) {
				now := requestcontext.Now(ctx)
				r, err := s.transition(ctx, cmd.RequestID,
					func(r *models.Request) error {
						if err := inHousehold(cmd.Actor.HouseholdID)(r); err != nil {
							return err
						}
						return r.CanTransition(models.StatusApproved)
					},
					func(r *models.Request) { r.ApplyTransition(models.StatusApproved, now) },
				)
				if err != nil {
					return nil, err
				}
				approval := &models.Approval{
					ID:                id.NewApprovalID(),
					RequestID:         r.ID,
					ApproverProfileID: cmd.Actor.ProfileID,
					ApprovedAt:        now,
					Notes:             strings.TrimSpace(cmd.Notes),
				}
				if err := s.store.InsertApproval(ctx, approval); err != nil {
					return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record approval")
				}
				if err := s.jobs.Enqueue(ctx, r, cmd.Actor.ProfileID, s.runAt(r, now)); err != nil {
					return nil, err
				}
				return r, s.emit(ctx, "request.approved", r)
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, out)
	return out, nil
}

// runAt is max(due_date, now+grace).
func (s *Service) runAt(r *models.Request, now time.Time) time.Time {
	at := now.Add(s.approvalGrace)
	if r.DueDate != nil && r.DueDate.After(at) {
		return *r.DueDate
	}
	return at
}

func (s *Service) Reject(ctx context.Context, cmd DecisionCommand) (*models.Request, error) {
	if err := cmd.Actor.RequireOwner(); err != nil {
		return nil, err
	}
	scope := idempotency.Scope{Kind: idempotency.KindRequestReject, ProfileID: cmd.Actor.ProfileID}
	input := decisionInput{RequestID: cmd.RequestID, Notes: cmd.Notes}

	var out *models.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		out, _, err = idempotency.Do(ctx, s.idempotency, scope, cmd.IdempotencyKey, input,
			func(ctx context.Context) (*models.Request, error) {
				now := requestcontext.Now(ctx)
				r, err := s.transition(ctx, cmd.RequestID,
					func(r *models.Request) error {
						if err := inHousehold(cmd.Actor.HouseholdID)(r); err != nil {
							return err
						}
						return r.CanTransition(models.StatusRejected)
					},
					func(r *models.Request) { r.ApplyRejection(strings.TrimSpace(cmd.Notes), now) },
				)
				if err != nil {
					return nil, err
				}
				return r, s.emit(ctx, "request.rejected", r)
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, out)
	return out, nil
}

// Cancel withdraws a request that has not started paying out. The owner may
// cancel any request; a dependent only their own.
func (s *Service) Cancel(ctx context.Context, cmd DecisionCommand) (*models.Request, error) {
	scope := idempotency.Scope{Kind: idempotency.KindRequestCancel, ProfileID: cmd.Actor.ProfileID}
	input := decisionInput{RequestID: cmd.RequestID}

	var out *models.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		out, _, err = idempotency.Do(ctx, s.idempotency, scope, cmd.IdempotencyKey, input,
			func(ctx context.Context) (*models.Request, error) {
				now := requestcontext.Now(ctx)
				r, err := s.transition(ctx, cmd.RequestID,
					func(r *models.Request) error {
						if err := inHousehold(cmd.Actor.HouseholdID)(r); err != nil {
							return err
						}
						return r.CanCancel(cmd.Actor)
					},
					func(r *models.Request) { r.ApplyTransition(models.StatusCancelled, now) },
				)
				if err != nil {
					return nil, err
				}
				if err := s.jobs.CancelForRequest(ctx, r.ID); err != nil {
					return nil, err
				}
				return r, s.emit(ctx, "request.cancelled", r)
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, out)
	return out, nil
}
