package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/sentinel"
	"kinledger/pkg/requestcontext"
)

// Store persists idempotency records. Insert must join the transaction in ctx
// and return sentinel.ErrAlreadyUsed when the key is already taken.
type Store interface {
	Find(ctx context.Context, profileID id.ProfileID, key string) (*Record, error)
	Insert(ctx context.Context, rec *Record) error
}

// Cache is an optional read-through cache of committed records.
type Cache interface {
	Get(ctx context.Context, profileID id.ProfileID, key string) (*Record, bool)
	Set(ctx context.Context, rec *Record)
}

// Metrics counts check outcomes.
type Metrics struct {
	Outcomes *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_idempotency_checks_total",
			Help: "Idempotency checks by operation kind and outcome (new, replay, conflict)",
		}, []string{"kind", "outcome"}),
	}
}

func (m *Metrics) observe(kind, outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(kind, outcome).Inc()
}

type Service struct {
	store   Store
	cache   Cache
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check returns nil for an unseen key, the stored record for a replay, and
// IDEMPOTENCY_CONFLICT when the key was used for another kind or input.
func (s *Service) Check(ctx context.Context, scope Scope, key, fingerprint string) (*Record, error) {
	rec, err := s.lookup(ctx, scope.ProfileID, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		s.metrics.observe(scope.Kind, "new")
		return nil, nil
	}
	if rec.Kind != scope.Kind || rec.Fingerprint != fingerprint {
		s.metrics.observe(scope.Kind, "conflict")
		s.logger.WarnContext(ctx, "idempotency key reused with different input",
			"request_id", requestcontext.RequestID(ctx),
			"profile_id", scope.ProfileID,
			"kind", scope.Kind,
			"stored_kind", rec.Kind,
		)
		return nil, dErrors.New(dErrors.CodeIdempotencyConflict, "idempotency key was already used with a different request")
	}
	s.metrics.observe(scope.Kind, "replay")
	return rec, nil
}

func (s *Service) lookup(ctx context.Context, profileID id.ProfileID, key string) (*Record, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(ctx, profileID, key); ok {
			return rec, nil
		}
	}
	rec, err := s.store.Find(ctx, profileID, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read idempotency record")
	}
	// only committed records are visible here, so caching is safe
	if s.cache != nil {
		s.cache.Set(ctx, rec)
	}
	return rec, nil
}

// Commit stores result under key. It must run in the same transaction as the
// business effect it records.
func (s *Service) Commit(ctx context.Context, scope Scope, key, fingerprint string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode idempotent result")
	}
	rec := &Record{
		ProfileID:   scope.ProfileID,
		Key:         key,
		Kind:        scope.Kind,
		Fingerprint: fingerprint,
		Result:      raw,
		CreatedAt:   requestcontext.Now(ctx),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "a concurrent request with the same idempotency key is in progress")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store idempotency record")
	}
	return nil
}

// Do runs fn at most once per (scope, key). On replay it decodes and returns
// the stored result with replayed=true. Call it inside the transaction that
// carries fn's effects.
func Do[T any](ctx context.Context, s *Service, scope Scope, key string, input any, fn func(ctx context.Context) (T, error)) (result T, replayed bool, err error) {
	if err := ValidateKey(key); err != nil {
		return result, false, err
	}
	fp, err := Fingerprint(scope.Kind, input)
	if err != nil {
		return result, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fingerprint request")
	}

	rec, err := s.Check(ctx, scope, key, fp)
	if err != nil {
		return result, false, err
	}
	if rec != nil {
		if err := json.Unmarshal(rec.Result, &result); err != nil {
			return result, false, dErrors.Wrap(fmt.Errorf("decode %s result: %w", scope.Kind, err), dErrors.CodeInternal, "failed to replay stored result")
		}
		return result, true, nil
	}

	result, err = fn(ctx)
	if err != nil {
		return result, false, err
	}
	if err := s.Commit(ctx, scope, key, fp, result); err != nil {
		return result, false, err
	}
	return result, false, nil
}
