package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("boom")
	inner := Wrap(base, CodeInvariantViolation, "bad transition")
	outer := Wrap(inner, CodeConflict, "request cannot be approved")

	t.Run("outer code matches", func(t *testing.T) {
		assert.True(t, HasCode(outer, CodeConflict))
		assert.True(t, Is(outer, CodeConflict))
	})

	t.Run("inner code is found through the chain", func(t *testing.T) {
		assert.True(t, HasCode(outer, CodeInvariantViolation))
		assert.False(t, Is(outer, CodeInvariantViolation))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(base, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(base))
	})

	t.Run("fmt wrapping keeps the code reachable", func(t *testing.T) {
		wrapped := fmt.Errorf("execute: %w", New(CodeNotFound, "payout not found"))
		assert.True(t, Is(wrapped, CodeNotFound))
		assert.ErrorIs(t, outer, base)
	})
}

func TestWithDetails(t *testing.T) {
	e := New(CodeInsufficientBalance, "insufficient balance")
	d := e.WithDetails(map[string]any{"available_cents": int64(2000)})

	assert.Nil(t, e.Details)
	assert.Equal(t, int64(2000), d.Details["available_cents"])
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:          http.StatusBadRequest,
		CodeIdempotencyConflict: http.StatusConflict,
		CodeInsufficientBalance: http.StatusUnprocessableEntity,
		CodePaymentError:        http.StatusBadGateway,
		CodeRateLimited:         http.StatusTooManyRequests,
		CodeInvariantViolation:  http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}

func TestTranslate(t *testing.T) {
	inner := New(CodeInvariantViolation, "transaction already completed").WithDetails(map[string]any{"status": "completed"})
	out := Translate(inner, CodeConflict)

	assert.Equal(t, CodeConflict, out.Code)
	assert.Equal(t, "transaction already completed", out.Message)
	assert.Equal(t, "completed", out.Details["status"])
	assert.True(t, HasCode(out, CodeInvariantViolation))
}
