package rail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"kinledger/internal/payout/metrics"
)

// DispatcherConfig bounds a single dispatch.
type DispatcherConfig struct {
	Timeout         time.Duration
	MaxAttempts     uint64
	InitialBackoff  time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Dispatcher wraps a Rail with a circuit breaker, bounded retries and an
// overall deadline.
type Dispatcher struct {
	rail    Rail
	breaker *gobreaker.CircuitBreaker
	cfg     DispatcherConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(rail Rail, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	d := &Dispatcher{rail: rail, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        rail.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// a rejected transfer says nothing about the provider's health
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("rail circuit breaker state changed",
				"rail", name,
				"from", from.String(),
				"to", to.String(),
			)
			d.metrics.SetBreakerState(name, stateValue(to))
		},
	})
	return d
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (d *Dispatcher) Rail() string { return d.rail.Name() }

// Dispatch submits t, retrying retryable provider errors with exponential
// backoff until MaxAttempts or the deadline. Use IsUnknownOutcome on the
// returned error to tell a timeout from a definite failure.
func (d *Dispatcher) Dispatch(ctx context.Context, t Transfer) (*Receipt, error) {
	defer d.metrics.ObserveDispatch(time.Now())
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = d.cfg.InitialBackoff
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, d.cfg.MaxAttempts-1), ctx)

	var receipt *Receipt
	attempt := 0
	op := func() error {
		attempt++
		res, err := d.breaker.Execute(func() (any, error) {
			return d.rail.Transfer(ctx, t)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				d.metrics.IncrementAttempt(d.rail.Name(), "breaker_open")
				return backoff.Permanent(&ProviderError{Kind: KindProviderOutage, Message: "payout rail circuit is open", Err: err})
			}
			d.metrics.IncrementAttempt(d.rail.Name(), string(KindOf(err)))
			d.logger.WarnContext(ctx, "payout transfer attempt failed",
				"rail", d.rail.Name(),
				"reference", t.Reference,
				"attempt", attempt,
				"kind", KindOf(err),
				"error", err,
			)
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		d.metrics.IncrementAttempt(d.rail.Name(), "accepted")
		receipt = res.(*Receipt)
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &ProviderError{Kind: KindTimeout, Message: "payout dispatch deadline exceeded", Err: err}
		}
		return nil, err
	}
	return receipt, nil
}

// IsUnknownOutcome reports whether the provider may still have accepted the
// transfer. Such payouts are left pending for reconciliation.
func IsUnknownOutcome(err error) bool {
	return KindOf(err) == KindTimeout
}
