package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinledger/internal/ratelimit/models"
	"kinledger/internal/ratelimit/store"
	id "kinledger/pkg/domain"
	"kinledger/pkg/requestcontext"
	"kinledger/pkg/testutil"
)

type brokenLimiter struct{ calls int }

func (b *brokenLimiter) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	b.calls++
	return nil, errors.New("redis: connection refused")
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func request(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/overview", nil)
	return req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
}

func TestLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("rejects past the limit with RATE_LIMITED", func(t *testing.T) {
		h := New(store.NewInMemory(), 2, time.Minute, logger).Limit("api")(ok)
		for range 2 {
			rr := testutil.DoRequest(h, request("10.0.0.1"))
			assert.Equal(t, http.StatusNoContent, rr.Code)
		}
		rr := testutil.DoRequest(h, request("10.0.0.1"))
		testutil.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "RATE_LIMITED")
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

		rr = testutil.DoRequest(h, request("10.0.0.2"))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("authenticated callers are counted per profile", func(t *testing.T) {
		h := New(store.NewInMemory(), 1, time.Minute, logger).Limit("api")(ok)
		a := id.Actor{ProfileID: id.NewProfileID(), HouseholdID: id.NewHouseholdID(), Role: id.RoleOwner}
		b := id.Actor{ProfileID: id.NewProfileID(), HouseholdID: a.HouseholdID, Role: id.RoleDependent}

		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, testutil.WithActor(request("10.0.0.1"), a)).Code)
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, testutil.WithActor(request("10.0.0.1"), b)).Code)
		assert.Equal(t, http.StatusTooManyRequests, testutil.DoRequest(h, testutil.WithActor(request("10.0.0.1"), a)).Code)
	})

	t.Run("store failure without fallback fails open", func(t *testing.T) {
		h := New(&brokenLimiter{}, 1, time.Minute, logger).Limit("api")(ok)
		for range 3 {
			assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, request("10.0.0.1")).Code)
		}
	})

	t.Run("store failure switches to the fallback", func(t *testing.T) {
		broken := &brokenLimiter{}
		m := New(broken, 2, time.Minute, logger, WithFallback(store.NewInMemory()))
		h := m.Limit("api")(ok)

		rr := testutil.DoRequest(h, request("10.0.0.1"))
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "degraded", rr.Header().Get("X-RateLimit-Status"))
		testutil.DoRequest(h, request("10.0.0.1"))
		rr = testutil.DoRequest(h, request("10.0.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, rr.Code, "fallback still enforces the limit")
	})

	t.Run("disabled", func(t *testing.T) {
		h := New(&brokenLimiter{}, 0, time.Minute, logger, WithDisabled(true)).Limit("api")(ok)
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(h, request("10.0.0.1")).Code)
	})
}

// flakyLimiter fails while down is set and counts the calls it receives.
type flakyLimiter struct {
	mu    sync.Mutex
	down  bool
	calls int
	inner Limiter
}

func (f *flakyLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	f.mu.Lock()
	f.calls++
	down := f.down
	f.mu.Unlock()
	if down {
		return nil, errors.New("redis: i/o timeout")
	}
	return f.inner.Allow(ctx, key, limit, window)
}

func (f *flakyLimiter) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyLimiter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestBreakerSkipsFailingPrimary(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	primary := &flakyLimiter{down: true, inner: store.NewInMemory()}
	fallback := &flakyLimiter{inner: store.NewInMemory()}
	h := New(primary, 100, time.Minute, logger,
		WithFallback(fallback),
		WithBreakerTimeout(50*time.Millisecond),
	).Limit("api")(ok)

	for range 5 {
		rr := testutil.DoRequest(h, request("10.0.0.1"))
		require.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "degraded", rr.Header().Get("X-RateLimit-Status"))
	}
	require.Equal(t, 5, primary.callCount())

	t.Run("open breaker keeps requests off the primary", func(t *testing.T) {
		for range 10 {
			rr := testutil.DoRequest(h, request("10.0.0.1"))
			assert.Equal(t, "degraded", rr.Header().Get("X-RateLimit-Status"))
		}
		assert.Equal(t, 5, primary.callCount())
		assert.Equal(t, 15, fallback.callCount())
	})

	t.Run("after the open timeout a healthy primary serves alone", func(t *testing.T) {
		primary.setDown(false)
		time.Sleep(80 * time.Millisecond)

		for range 3 {
			rr := testutil.DoRequest(h, request("10.0.0.1"))
			assert.Empty(t, rr.Header().Get("X-RateLimit-Status"))
		}
		assert.Equal(t, 8, primary.callCount())
		assert.Equal(t, 15, fallback.callCount(), "half-open checks are not counted twice")
	})
}
