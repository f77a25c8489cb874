package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"kinledger/internal/platform/auth"
	"kinledger/internal/ratelimit/models"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/httputil"
	"kinledger/pkg/requestcontext"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	primary        Limiter
	fallback       Limiter
	breaker        *gobreaker.TwoStepCircuitBreaker
	breakerTimeout time.Duration
	limit          int
	window         time.Duration
	logger         *slog.Logger
	disabled       bool
}

const (
	breakerFailures         = 5
	breakerHalfOpenRequests = 3
	defaultOpenDelay        = 30 * time.Second
)

type Option func(*Middleware)

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

// WithFallback sets the limiter used while the primary store is failing.
func WithFallback(l Limiter) Option {
	return func(m *Middleware) { m.fallback = l }
}

// WithBreakerTimeout sets how long the primary store is skipped after the
// breaker opens before it is tried again.
func WithBreakerTimeout(d time.Duration) Option {
	return func(m *Middleware) { m.breakerTimeout = d }
}

func New(primary Limiter, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary:        primary,
		breakerTimeout: defaultOpenDelay,
		limit:          limit,
		window:         window,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.breaker = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-store",
		MaxRequests: breakerHalfOpenRequests,
		Timeout:     m.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rate limit store breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit applies the per-caller window to scope. Authenticated requests are
// counted per profile, anonymous ones per client IP.
func (m *Middleware) Limit(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := models.Key("ip", requestcontext.ClientIP(ctx), scope)
			if actor, err := auth.ActorFrom(r); err == nil {
				key = models.Key("profile", actor.ProfileID.String(), scope)
			}

			result, degraded, err := m.check(ctx, key)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed, allowing request",
					"request_id", requestcontext.RequestID(ctx),
					"scope", scope,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}
			addHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, r, dErrors.New(dErrors.CodeRateLimited, "too many requests, try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// check asks the primary store unless the breaker is open, in which case
// the fallback answers alone. Each hit is counted by exactly one store.
func (m *Middleware) check(ctx context.Context, key string) (*models.Result, bool, error) {
	if m.fallback == nil {
		res, err := m.primary.Allow(ctx, key, m.limit, m.window)
		return res, false, err
	}

	done, err := m.breaker.Allow()
	if err != nil {
		res, err := m.fallback.Allow(ctx, key, m.limit, m.window)
		return res, true, err
	}
	res, err := m.primary.Allow(ctx, key, m.limit, m.window)
	done(err == nil)
	if err == nil {
		return res, false, nil
	}
	m.logger.WarnContext(ctx, "rate limit store failed, using in-process fallback",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	res, err = m.fallback.Allow(ctx, key, m.limit, m.window)
	return res, true, err
}

func addHeaders(w http.ResponseWriter, r *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))
}
