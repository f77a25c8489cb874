package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kinledger/internal/idempotency"
	"kinledger/internal/ledger/metrics"
	"kinledger/internal/ledger/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/pagination"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
)

// Store persists ledger entries and the per-household projection. Lock*
// methods take a row lock held until the surrounding transaction ends.
type Store interface {
	LockProjection(ctx context.Context, householdID id.HouseholdID) (*models.Projection, error)
	GetProjection(ctx context.Context, householdID id.HouseholdID) (*models.Projection, error)
	SaveProjection(ctx context.Context, p *models.Projection) error
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	LockTransaction(ctx context.Context, txID id.TransactionID) (*models.Transaction, error)
	FindTransaction(ctx context.Context, txID id.TransactionID) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, t *models.Transaction) error
	FindReversal(ctx context.Context, originalID id.TransactionID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Transaction, error)
	Totals(ctx context.Context, householdID id.HouseholdID) (*models.Projection, error)
	HasEntries(ctx context.Context, householdID id.HouseholdID) (bool, error)
}

// CurrencyLookup resolves a household's currency for balance responses.
type CurrencyLookup interface {
	Currency(ctx context.Context, householdID id.HouseholdID) (string, error)
}

// Service is the only writer of ledger entries. Every write updates the
// household projection in the same transaction.
type Service struct {
	store       Store
	tx          txcontext.Runner
	currency    CurrencyLookup
	idempotency *idempotency.Service
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithCurrencyLookup(c CurrencyLookup) Option {
	return func(s *Service) { s.currency = c }
}

func WithIdempotency(svc *idempotency.Service) Option {
	return func(s *Service) { s.idempotency = svc }
}

func New(store Store, tx txcontext.Runner, opts ...Option) *Service {
	s := &Service{store: store, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordPending writes a pending entry. Out entries reserve funds and fail
// with INSUFFICIENT_BALANCE when the available balance cannot cover them.
func (s *Service) RecordPending(ctx context.Context, e models.Entry) (*models.Transaction, error) {
	return s.write(ctx, e, models.StatusPending)
}

// Record writes a completed entry directly, for funding and adjustments.
func (s *Service) Record(ctx context.Context, e models.Entry) (*models.Transaction, error) {
	return s.write(ctx, e, models.StatusCompleted)
}

func (s *Service) write(ctx context.Context, e models.Entry, status models.Status) (*models.Transaction, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	defer s.metrics.ObserveWrite(time.Now())

	var t *models.Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.store.LockProjection(ctx, e.HouseholdID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock balance")
		}
		now := requestcontext.Now(ctx)
		t = e.NewTransaction(status, now)
		if status == models.StatusPending {
			err = p.ApplyPending(t)
		} else {
			err = p.ApplyCompleted(t)
		}
		if err != nil {
			return err
		}
		if err := s.store.InsertTransaction(ctx, t); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write ledger entry")
		}
		return s.saveProjection(ctx, p, now)
	})
	if err != nil {
		if dErrors.Is(err, dErrors.CodeInsufficientBalance) {
			s.metrics.IncrementInsufficientBalance()
		}
		return nil, err
	}

	s.metrics.IncrementEntry(string(t.Type), string(t.Status))
	s.logger.InfoContext(ctx, "ledger entry written",
		"request_id", requestcontext.RequestID(ctx),
		"household_id", t.HouseholdID,
		"transaction_id", t.ID,
		"type", t.Type,
		"direction", t.Direction,
		"status", t.Status,
		"amount_cents", t.AmountCents,
	)
	return t, nil
}

// Finalize moves a pending entry to outcome. Repeating the same outcome
// returns the entry unchanged. A different outcome is a CONFLICT.
func (s *Service) Finalize(ctx context.Context, txID id.TransactionID, outcome models.Status) (*models.Transaction, error) {
	defer s.metrics.ObserveWrite(time.Now())

	var t *models.Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.store.LockTransaction(ctx, txID)
		if err != nil {
			return translateNotFound(err, "ledger transaction not found")
		}
		now := requestcontext.Now(ctx)
		changed, err := t.Finalize(outcome, now)
		if err != nil {
			return dErrors.Translate(err, dErrors.CodeConflict)
		}
		if !changed {
			return nil
		}
		p, err := s.store.LockProjection(ctx, t.HouseholdID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock balance")
		}
		p.ApplyFinalized(t)
		if err := s.store.UpdateTransaction(ctx, t); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize ledger entry")
		}
		return s.saveProjection(ctx, p, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "ledger entry finalized",
		"request_id", requestcontext.RequestID(ctx),
		"transaction_id", t.ID,
		"status", t.Status,
	)
	return t, nil
}

// Reverse writes the single compensating entry for a completed out entry.
func (s *Service) Reverse(ctx context.Context, originalID id.TransactionID, reason string) (*models.Transaction, error) {
	defer s.metrics.ObserveWrite(time.Now())

	var rev *models.Transaction
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		original, err := s.store.LockTransaction(ctx, originalID)
		if err != nil {
			return translateNotFound(err, "ledger transaction not found")
		}
		if err := original.CanReverse(); err != nil {
			return dErrors.Translate(err, dErrors.CodeConflict)
		}
		if _, err := s.store.FindReversal(ctx, originalID); err == nil {
			return dErrors.New(dErrors.CodeConflict, "transaction has already been reversed")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up reversal")
		}

		p, err := s.store.LockProjection(ctx, original.HouseholdID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock balance")
		}
		now := requestcontext.Now(ctx)
		rev = original.Reversal(reason, now)
		if err := p.ApplyCompleted(rev); err != nil {
			return err
		}
		if err := s.store.InsertTransaction(ctx, rev); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "transaction has already been reversed")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write reversal")
		}
		return s.saveProjection(ctx, p, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementEntry(string(rev.Type), string(rev.Status))
	s.logger.InfoContext(ctx, "ledger entry reversed",
		"request_id", requestcontext.RequestID(ctx),
		"transaction_id", originalID,
		"reversal_transaction_id", rev.ID,
	)
	return rev, nil
}

func (s *Service) saveProjection(ctx context.Context, p *models.Projection, now time.Time) error {
	if err := p.Check(); err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = now
	if err := s.store.SaveProjection(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrInsufficientFunds) {
			return dErrors.New(dErrors.CodeInsufficientBalance, "insufficient available balance")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update balance")
	}
	return nil
}

// Get returns one entry of the household.
func (s *Service) Get(ctx context.Context, householdID id.HouseholdID, txID id.TransactionID) (*models.Transaction, error) {
	t, err := s.store.FindTransaction(ctx, txID)
	if err != nil {
		return nil, translateNotFound(err, "ledger transaction not found")
	}
	if t.HouseholdID != householdID {
		return nil, dErrors.New(dErrors.CodeNotFound, "ledger transaction not found")
	}
	return t, nil
}

// Find returns an entry by id alone, for provider callbacks that carry no
// household.
func (s *Service) Find(ctx context.Context, txID id.TransactionID) (*models.Transaction, error) {
	t, err := s.store.FindTransaction(ctx, txID)
	if err != nil {
		return nil, translateNotFound(err, "ledger transaction not found")
	}
	return t, nil
}

// Balance reads the household projection.
func (s *Service) Balance(ctx context.Context, householdID id.HouseholdID) (*models.Balance, error) {
	p, err := s.store.GetProjection(ctx, householdID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance")
	}
	return p.ToBalance(s.lookupCurrency(ctx, householdID)), nil
}

func (s *Service) lookupCurrency(ctx context.Context, householdID id.HouseholdID) string {
	if s.currency == nil {
		return ""
	}
	cur, err := s.currency.Currency(ctx, householdID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve household currency",
			"request_id", requestcontext.RequestID(ctx),
			"household_id", householdID,
			"error", err,
		)
		return ""
	}
	return cur
}

// List returns entries newest first with an opaque cursor for the next page.
func (s *Service) List(ctx context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Transaction, string, bool, error) {
	if filter.Direction != "" && !filter.Direction.IsValid() {
		return nil, "", false, dErrors.Newf(dErrors.CodeValidation, "invalid direction %q", filter.Direction)
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, "", false, dErrors.Newf(dErrors.CodeValidation, "invalid type %q", filter.Type)
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, "", false, dErrors.Newf(dErrors.CodeValidation, "invalid status %q", filter.Status)
	}
	limit := filter.Limit
	filter.Limit = limit + 1
	items, err := s.store.ListTransactions(ctx, householdID, filter)
	if err != nil {
		return nil, "", false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list ledger entries")
	}
	page, next, more := pagination.Trim(items, limit, func(t *models.Transaction) pagination.Cursor { return t.Cursor() })
	return page, next, more, nil
}

// HasEntries reports whether the household has any ledger history.
func (s *Service) HasEntries(ctx context.Context, householdID id.HouseholdID) (bool, error) {
	ok, err := s.store.HasEntries(ctx, householdID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to inspect ledger")
	}
	return ok, nil
}

// Verify recomputes the projection from the entries and compares it with the
// stored row.
func (s *Service) Verify(ctx context.Context, householdID id.HouseholdID) (*models.VerifyReport, error) {
	var report *models.VerifyReport
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		stored, err := s.store.GetProjection(ctx, householdID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance")
		}
		totals, err := s.store.Totals(ctx, householdID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to sum ledger entries")
		}
		totals.UpdatedAt = stored.UpdatedAt
		report = &models.VerifyReport{
			HouseholdID: householdID,
			Consistent: stored.CompletedIn == totals.CompletedIn && stored.CompletedOut == totals.CompletedOut &&
				stored.PendingIn == totals.PendingIn && stored.PendingOut == totals.PendingOut,
			Stored:     stored.ToBalance(""),
			Recomputed: totals.ToBalance(""),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.Consistent {
		s.metrics.IncrementDrift()
		s.logger.ErrorContext(ctx, "balance projection drift detected",
			"request_id", requestcontext.RequestID(ctx),
			"household_id", householdID,
			"stored_balance", report.Stored.BalanceCents,
			"recomputed_balance", report.Recomputed.BalanceCents,
		)
	}
	return report, nil
}

func translateNotFound(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
