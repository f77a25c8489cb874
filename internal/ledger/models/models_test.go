package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kinledger/pkg/domain-errors"
)

func TestTransactionFinalize(t *testing.T) {
	now := time.Now()

	t.Run("pending to terminal once", func(t *testing.T) {
		tx := &Transaction{Status: StatusPending}
		changed, err := tx.Finalize(StatusCompleted, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StatusCompleted, tx.Status)
	})

	t.Run("same outcome is a no-op", func(t *testing.T) {
		tx := &Transaction{Status: StatusFailed}
		changed, err := tx.Finalize(StatusFailed, now)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("different outcome is rejected", func(t *testing.T) {
		tx := &Transaction{Status: StatusCompleted}
		_, err := tx.Finalize(StatusFailed, now)
		assert.True(t, dErrors.Is(err, dErrors.CodeInvariantViolation))
		assert.Equal(t, StatusCompleted, tx.Status)
	})

	t.Run("pending is not an outcome", func(t *testing.T) {
		tx := &Transaction{Status: StatusPending}
		_, err := tx.Finalize(StatusPending, now)
		assert.Error(t, err)
	})
}

func TestProjection(t *testing.T) {
	p := &Projection{CompletedIn: 5000}

	out := &Transaction{Direction: DirectionOut, AmountCents: 3000, Status: StatusPending}
	require.NoError(t, p.ApplyPending(out))
	assert.Equal(t, int64(5000), p.Balance())
	assert.Equal(t, int64(2000), p.Available())

	t.Run("reservation beyond available is refused", func(t *testing.T) {
		err := p.ApplyPending(&Transaction{Direction: DirectionOut, AmountCents: 2001})
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeInsufficientBalance))
		assert.Equal(t, int64(3000), p.PendingOut)
	})

	out.Status = StatusCompleted
	p.ApplyFinalized(out)
	assert.Equal(t, int64(2000), p.Balance())
	assert.Equal(t, int64(2000), p.Available())

	require.NoError(t, p.ApplyCompleted(&Transaction{Direction: DirectionIn, AmountCents: 3000}))
	assert.Equal(t, int64(5000), p.Balance())
	require.NoError(t, p.Check())

	t.Run("failed release restores available", func(t *testing.T) {
		q := &Projection{CompletedIn: 100}
		tx := &Transaction{Direction: DirectionOut, AmountCents: 100, Status: StatusPending}
		require.NoError(t, q.ApplyPending(tx))
		assert.Zero(t, q.Available())
		tx.Status = StatusFailed
		q.ApplyFinalized(tx)
		assert.Equal(t, int64(100), q.Available())
		assert.Equal(t, int64(100), q.Balance())
	})
}
