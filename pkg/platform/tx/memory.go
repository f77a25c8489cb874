package tx

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultLockTimeout = 5 * time.Second

// ErrLockTimeout is returned when the memory runner cannot acquire its lock.
var ErrLockTimeout = errors.New("transaction lock timeout")

// MemoryRunner serializes transactions over in-memory stores with a single
// lock and undoes partial writes when fn fails.
type MemoryRunner struct {
	sem     chan struct{}
	timeout time.Duration
	once    sync.Once
}

// NewMemoryRunner returns a runner with the default lock timeout.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{timeout: defaultLockTimeout}
}

func (r *MemoryRunner) init() {
	r.once.Do(func() {
		r.sem = make(chan struct{}, 1)
		if r.timeout <= 0 {
			r.timeout = defaultLockTimeout
		}
	})
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	r.init()
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
	defer func() { <-r.sem }()

	txCtx, journal := WithJournal(ctx)
	if err := fn(txCtx); err != nil {
		journal.Rollback()
		return err
	}
	return nil
}
