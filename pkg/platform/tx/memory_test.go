package tx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRunner(t *testing.T) {
	t.Run("rollback restores state in reverse order", func(t *testing.T) {
		r := NewMemoryRunner()
		state := []string{"a"}
		var order []string

		err := r.RunInTx(context.Background(), func(ctx context.Context) error {
			state = append(state, "b")
			OnRollback(ctx, func() { order = append(order, "first"); state = state[:1] })
			OnRollback(ctx, func() { order = append(order, "second") })
			return errors.New("boom")
		})

		require.EqualError(t, err, "boom")
		assert.Equal(t, []string{"a"}, state)
		assert.Equal(t, []string{"second", "first"}, order)
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		r := NewMemoryRunner()
		undone := false

		err := r.RunInTx(context.Background(), func(ctx context.Context) error {
			inner := r.RunInTx(ctx, func(ctx context.Context) error {
				OnRollback(ctx, func() { undone = true })
				return nil
			})
			require.NoError(t, inner)
			return errors.New("outer failed")
		})

		require.Error(t, err)
		assert.True(t, undone)
	})

	t.Run("serializes concurrent transactions", func(t *testing.T) {
		r := NewMemoryRunner()
		var inside, maxInside int32
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = r.RunInTx(context.Background(), func(ctx context.Context) error {
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					return nil
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside)
	})

	t.Run("cancelled context is not run", func(t *testing.T) {
		r := NewMemoryRunner()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := r.RunInTx(ctx, func(context.Context) error { called = true; return nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("OnRollback outside a transaction is ignored", func(t *testing.T) {
		assert.NotPanics(t, func() { OnRollback(context.Background(), func() {}) })
		assert.False(t, InTx(context.Background()))
	})
}
