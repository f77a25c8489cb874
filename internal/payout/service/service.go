package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	hhservice "kinledger/internal/household/service"
	"kinledger/internal/idempotency"
	ledgermodels "kinledger/internal/ledger/models"
	obmodels "kinledger/internal/obligation/models"
	"kinledger/internal/payout/metrics"
	"kinledger/internal/payout/models"
	"kinledger/internal/payout/rail"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/pagination"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
)

var tracer = otel.Tracer("kinledger/payout")

// Store persists payouts and their jobs. Lock* holds the row until the
// surrounding transaction ends.
type Store interface {
	CreatePayout(ctx context.Context, p *models.Payout) error
	FindPayout(ctx context.Context, payoutID id.PayoutID) (*models.Payout, error)
	LockPayout(ctx context.Context, payoutID id.PayoutID) (*models.Payout, error)
	UpdatePayout(ctx context.Context, p *models.Payout) error
	FindLiveByRequest(ctx context.Context, requestID id.RequestID) (*models.Payout, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Payout, error)
	ListPayouts(ctx context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Payout, error)
	ListUnconfirmed(ctx context.Context, cutoff time.Time, limit int) ([]*models.Payout, error)

	InsertJob(ctx context.Context, j *models.Job) error
	FindJob(ctx context.Context, jobID id.JobID) (*models.Job, error)
	FindQueuedJob(ctx context.Context, requestID id.RequestID) (*models.Job, error)
	UpdateJob(ctx context.Context, j *models.Job) error
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	UnscheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
}

// Ledger reserves and settles payout funds.
type Ledger interface {
	RecordPending(ctx context.Context, e ledgermodels.Entry) (*ledgermodels.Transaction, error)
	Finalize(ctx context.Context, txID id.TransactionID, outcome ledgermodels.Status) (*ledgermodels.Transaction, error)
	Reverse(ctx context.Context, originalID id.TransactionID, reason string) (*ledgermodels.Transaction, error)
}

// Obligations drives the request side of a payout.
type Obligations interface {
	Find(ctx context.Context, householdID id.HouseholdID, requestID id.RequestID) (*obmodels.Request, error)
	MarkScheduled(ctx context.Context, requestID id.RequestID) (*obmodels.Request, error)
	MarkProcessing(ctx context.Context, requestID id.RequestID, snap obmodels.PayoutSnapshot) (*obmodels.Request, error)
	MarkPaid(ctx context.Context, requestID id.RequestID) (*obmodels.Request, error)
	MarkFailed(ctx context.Context, requestID id.RequestID, reason string) (*obmodels.Request, error)
	MarkReversed(ctx context.Context, requestID id.RequestID, reason string) (*obmodels.Request, error)
}

// Payees resolves where a kin member is paid.
type Payees interface {
	PayeeFor(ctx context.Context, householdID id.HouseholdID, kinID id.KinID) (*hhservice.Payee, error)
}

// Dispatcher sends a transfer to the configured rail.
type Dispatcher interface {
	Rail() string
	Dispatch(ctx context.Context, t rail.Transfer) (*rail.Receipt, error)
}

// Events writes domain events and operator alerts inside the caller's
// transaction.
type Events interface {
	Emit(ctx context.Context, eventType, key string, payload any) error
	Alert(ctx context.Context, alertType, key string, payload any) error
}

// AcceptedHook runs after a payout has been acknowledged by the rail.
type AcceptedHook func(ctx context.Context, p *models.Payout)

type Service struct {
	store       Store
	tx          txcontext.Runner
	ledger      Ledger
	requests    Obligations
	payees      Payees
	dispatcher  Dispatcher
	idempotency *idempotency.Service
	events      Events
	onAccepted  AcceptedHook
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

func WithEvents(e Events) Option {
	return func(s *Service) { s.events = e }
}

// WithAcceptedHook registers fn to run once a payout is acknowledged, for
// example to re-apply webhook events that arrived before the external id.
func WithAcceptedHook(fn AcceptedHook) Option {
	return func(s *Service) { s.onAccepted = fn }
}

func New(store Store, tx txcontext.Runner, ledger Ledger, requests Obligations, payees Payees,
	dispatcher Dispatcher, idem *idempotency.Service, opts ...Option) *Service {
	s := &Service{
		store:       store,
		tx:          tx,
		ledger:      ledger,
		requests:    requests,
		payees:      payees,
		dispatcher:  dispatcher,
		idempotency: idem,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAcceptedHook wires the hook after construction, for components that
// themselves depend on the payout service.
func (s *Service) SetAcceptedHook(fn AcceptedHook) {
	s.onAccepted = fn
}

func (s *Service) Get(ctx context.Context, actor id.Actor, payoutID id.PayoutID) (*models.Payout, error) {
	p, err := s.store.FindPayout(ctx, payoutID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if p.HouseholdID != actor.HouseholdID {
		return nil, errPayoutNotFound()
	}
	return p, nil
}

// List returns the household's payouts newest first.
func (s *Service) List(ctx context.Context, actor id.Actor, filter models.Filter) ([]*models.Payout, string, bool, error) {
	limit := filter.Limit
	filter.Limit = limit + 1
	items, err := s.store.ListPayouts(ctx, actor.HouseholdID, filter)
	if err != nil {
		return nil, "", false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list payouts")
	}
	page, next, more := pagination.Trim(items, limit, func(p *models.Payout) pagination.Cursor { return p.Cursor() })
	return page, next, more, nil
}

// Match finds the payout a provider event refers to, by external id first
// and then by the transfer reference.
func (s *Service) Match(ctx context.Context, externalID, reference string) (*models.Payout, error) {
	if externalID != "" {
		p, err := s.store.FindByExternalID(ctx, externalID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to match payout")
		}
	}
	if reference == "" {
		return nil, errPayoutNotFound()
	}
	payoutID, err := id.ParsePayoutID(reference)
	if err != nil {
		return nil, errPayoutNotFound()
	}
	p, err := s.store.FindPayout(ctx, payoutID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return p, nil
}

func (s *Service) emit(ctx context.Context, eventType string, p *models.Payout) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Emit(ctx, eventType, p.ID.String(), p); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record event")
	}
	return nil
}

func (s *Service) alert(ctx context.Context, alertType, key string, payload any) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Alert(ctx, alertType, key, payload); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record alert")
	}
	return nil
}

func (s *Service) logPayout(ctx context.Context, msg string, p *models.Payout, args ...any) {
	s.metrics.IncrementOutcome(string(p.Status))
	s.logger.InfoContext(ctx, msg, append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"payout_id", p.ID,
		"obligation_id", p.RequestID,
		"household_id", p.HouseholdID,
		"status", p.Status,
	}, args...)...)
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}

func errPayoutNotFound() error {
	return dErrors.New(dErrors.CodeNotFound, "payout not found")
}

func translateStoreErr(err error) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return errPayoutNotFound()
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "payout store failure")
}
