package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by TryRun when another instance holds the lock.
var ErrLockHeld = errors.New("lock held by another instance")

// Locker runs a function while holding a named lock.
type Locker interface {
	TryRun(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// RedLocker is a distributed Locker backed by redsync.
type RedLocker struct {
	rs *redsync.Redsync
}

func NewRedLocker(client redis.UniversalClient) *RedLocker {
	return &RedLocker{rs: redsync.New(goredis.NewPool(client))}
}

// TryRun acquires name once without retrying. Contention yields ErrLockHeld
// so periodic sweepers can simply skip the tick.
func (l *RedLocker) TryRun(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex("lock:"+name, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return ErrLockHeld
		}
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	defer func() {
		_, _ = mutex.UnlockContext(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}

// LocalLocker is the single-process Locker used when Redis is not configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) TryRun(ctx context.Context, name string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[name] {
		l.mu.Unlock()
		return ErrLockHeld
	}
	l.held[name] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
