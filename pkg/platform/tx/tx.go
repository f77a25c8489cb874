// Package tx carries the active transaction through a context so stores can
// join it without changing their signatures.
package tx

import (
	"context"
	"database/sql"
	"sync"
)

// Runner executes fn inside a transactional boundary. Implementations join an
// already active transaction found in ctx instead of nesting.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ctxKey struct{}
type journalKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Journal records undo steps for in-memory stores so a failed transaction can
// restore the state it touched.
type Journal struct {
	mu    sync.Mutex
	undos []func()
}

// WithJournal attaches a fresh journal to ctx.
func WithJournal(ctx context.Context) (context.Context, *Journal) {
	j := &Journal{}
	return context.WithValue(ctx, journalKey{}, j), j
}

// InTx reports whether ctx already carries a transaction of either kind.
func InTx(ctx context.Context) bool {
	if _, ok := From(ctx); ok {
		return true
	}
	_, ok := ctx.Value(journalKey{}).(*Journal)
	return ok
}

// OnRollback registers an undo step. Outside a transaction it is a no-op.
func OnRollback(ctx context.Context, undo func()) {
	j, ok := ctx.Value(journalKey{}).(*Journal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.undos = append(j.undos, undo)
	j.mu.Unlock()
}

// Rollback runs the recorded undo steps newest first.
func (j *Journal) Rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undos) - 1; i >= 0; i-- {
		j.undos[i]()
	}
	j.undos = nil
}
