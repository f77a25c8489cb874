package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	hhmodels "kinledger/internal/household/models"
	"kinledger/internal/idempotency"
	"kinledger/internal/obligation/metrics"
	"kinledger/internal/obligation/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/pagination"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
)

// Store persists requests and approvals. Execute must hold the request
// exclusively between validate and the write of the mutated copy.
type Store interface {
	Create(ctx context.Context, r *models.Request) error
	Find(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	Execute(ctx context.Context, requestID id.RequestID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error)
	List(ctx context.Context, householdID id.HouseholdID, filter models.Filter) ([]*models.Request, error)
	InsertApproval(ctx context.Context, a *models.Approval) error
	ListApprovals(ctx context.Context, requestID id.RequestID) ([]*models.Approval, error)
	CountByStatus(ctx context.Context, householdID id.HouseholdID, status models.Status) (int, error)
}

// KinDirectory resolves kin members. ActiveKin excludes deleted members,
// FindKin does not.
type KinDirectory interface {
	ActiveKin(ctx context.Context, householdID id.HouseholdID, kinID id.KinID) (*hhmodels.KinMember, error)
	FindKin(ctx context.Context, householdID id.HouseholdID, kinID id.KinID) (*hhmodels.KinMember, error)
}

// PayoutJobs queues and cancels the payout job of an approved request.
type PayoutJobs interface {
	Enqueue(ctx context.Context, r *models.Request, initiator id.ProfileID, runAt time.Time) error
	CancelForRequest(ctx context.Context, requestID id.RequestID) error
}

// Events receives domain events inside the caller's transaction.
type Events interface {
	Emit(ctx context.Context, eventType, key string, payload any) error
}

const defaultApprovalGrace = time.Minute

type Service struct {
	store         Store
	tx            txcontext.Runner
	kin           KinDirectory
	jobs          PayoutJobs
	idempotency   *idempotency.Service
	events        Events
	approvalGrace time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
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

// WithApprovalGrace sets the minimum delay between approval and payout.
func WithApprovalGrace(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.approvalGrace = d
		}
	}
}

func New(store Store, tx txcontext.Runner, kin KinDirectory, jobs PayoutJobs, idem *idempotency.Service, opts ...Option) *Service {
	s := &Service{
		store:         store,
		tx:            tx,
		kin:           kin,
		jobs:          jobs,
		idempotency:   idem,
		approvalGrace: defaultApprovalGrace,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a request of the caller's household with its approvals.
func (s *Service) Get(ctx context.Context, actor id.Actor, requestID id.RequestID) (*models.Detail, error) {
	r, err := s.find(ctx, actor.HouseholdID, requestID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approvals")
	}
	refs, err := s.kinRefs(ctx, actor.HouseholdID, []*models.Request{r})
	if err != nil {
		return nil, err
	}
	return &models.Detail{Request: r, Kin: refs[r.KinID], Approvals: approvals}, nil
}

// Find returns a request of the household without approvals.
func (s *Service) Find(ctx context.Context, householdID id.HouseholdID, requestID id.RequestID) (*models.Request, error) {
	return s.find(ctx, householdID, requestID)
}

func (s *Service) find(ctx context.Context, householdID id.HouseholdID, requestID id.RequestID) (*models.Request, error) {
	r, err := s.store.Find(ctx, requestID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if r.HouseholdID != householdID {
		return nil, errRequestNotFound()
	}
	return r, nil
}

func (s *Service) Approvals(ctx context.Context, actor id.Actor, requestID id.RequestID) ([]*models.Approval, error) {
	if _, err := s.find(ctx, actor.HouseholdID, requestID); err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approvals")
	}
	return approvals, nil
}

// List returns the household's requests newest first.
func (s *Service) List(ctx context.Context, actor id.Actor, filter models.Filter) ([]*models.Request, string, bool, error) {
	limit := filter.Limit
	filter.Limit = limit + 1
	items, err := s.store.List(ctx, actor.HouseholdID, filter)
	if err != nil {
		return nil, "", false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	page, next, more := pagination.Trim(items, limit, func(r *models.Request) pagination.Cursor { return r.Cursor() })
	return page, next, more, nil
}

// ListWithKin is List with each request's kin member attached.
func (s *Service) ListWithKin(ctx context.Context, actor id.Actor, filter models.Filter) ([]*models.WithKin, string, bool, error) {
	page, next, more, err := s.List(ctx, actor, filter)
	if err != nil {
		return nil, "", false, err
	}
	refs, err := s.kinRefs(ctx, actor.HouseholdID, page)
	if err != nil {
		return nil, "", false, err
	}
	out := make([]*models.WithKin, 0, len(page))
	for _, r := range page {
		out = append(out, &models.WithKin{Request: r, Kin: refs[r.KinID]})
	}
	return out, next, more, nil
}

// kinRefs looks each distinct kin member up once. Deleted kin still resolve
// so historical requests keep their name.
func (s *Service) kinRefs(ctx context.Context, householdID id.HouseholdID, requests []*models.Request) (map[id.KinID]models.KinRef, error) {
	refs := make(map[id.KinID]models.KinRef, len(requests))
	for _, r := range requests {
		if _, ok := refs[r.KinID]; ok {
			continue
		}
		k, err := s.kin.FindKin(ctx, householdID, r.KinID)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				refs[r.KinID] = models.KinRef{ID: r.KinID}
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load kin member")
		}
		ref := models.KinRef{ID: k.ID, DisplayName: k.DisplayName}
		if k.ProfileURL != "" {
			url := k.ProfileURL
			ref.ProfileURL = &url
		}
		refs[r.KinID] = ref
	}
	return refs, nil
}

// CountPending returns the number of requests awaiting a decision.
func (s *Service) CountPending(ctx context.Context, householdID id.HouseholdID) (int, error) {
	n, err := s.store.CountByStatus(ctx, householdID, models.StatusPending)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count pending requests")
	}
	return n, nil
}

// transition runs a guarded status change. Invariant violations from the
// model become CONFLICT.
func (s *Service) transition(ctx context.Context, requestID id.RequestID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error) {
	r, err := s.store.Execute(ctx, requestID, validate, mutate)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			s.metrics.IncrementConflict()
			return nil, dErrors.Translate(err, dErrors.CodeConflict)
		}
		return nil, translateStoreErr(err)
	}
	return r, nil
}

func (s *Service) emit(ctx context.Context, eventType string, r *models.Request) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Emit(ctx, eventType, r.ID.String(), r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record event")
	}
	return nil
}

func (s *Service) logTransition(ctx context.Context, r *models.Request) {
	s.metrics.IncrementTransition(string(r.Status))
	s.logger.InfoContext(ctx, "request transitioned",
		"request_id", requestcontext.RequestID(ctx),
		"obligation_id", r.ID,
		"household_id", r.HouseholdID,
		"status", r.Status,
	)
}

func inHousehold(householdID id.HouseholdID) func(*models.Request) error {
	return func(r *models.Request) error {
		if r.HouseholdID != householdID {
			return errRequestNotFound()
		}
		return nil
	}
}

func errRequestNotFound() error {
	return dErrors.New(dErrors.CodeNotFound, "request not found")
}

// translateStoreErr keeps domain errors and maps store sentinels.
func translateStoreErr(err error) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return errRequestNotFound()
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "request store failure")
}
