// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets the values; services and handlers read them without pulling
// in net/http:
//
//	actor, ok := requestcontext.Actor(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, actor)
package requestcontext

import (
	"context"
	"time"

	id "kinledger/pkg/domain"
)

type (
	actorKey          struct{}
	clientIPKey       struct{}
	requestIDKey      struct{}
	requestTimeKey    struct{}
	idempotencyKeyKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyActor          = actorKey{}
	ContextKeyClientIP       = clientIPKey{}
	ContextKeyRequestID      = requestIDKey{}
	ContextKeyRequestTime    = requestTimeKey{}
	ContextKeyIdempotencyKey = idempotencyKeyKey{}
)

// Actor retrieves the authenticated caller.
func Actor(ctx context.Context) (id.Actor, bool) {
	a, ok := ctx.Value(ContextKeyActor).(id.Actor)
	return a, ok
}

// WithActor injects the authenticated caller.
func WithActor(ctx context.Context, a id.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, a)
}

// ProfileID is a shorthand for the caller's profile, zero if unauthenticated.
func ProfileID(ctx context.Context) id.ProfileID {
	a, _ := Actor(ctx)
	return a.ProfileID
}

func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// RequestID retrieves the request correlation id.
func RequestID(ctx context.Context) string {
	if rid, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return rid
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// IdempotencyKey is the key echoed back in the response meta block.
func IdempotencyKey(ctx context.Context) string {
	if k, ok := ctx.Value(ContextKeyIdempotencyKey).(string); ok {
		return k
	}
	return ""
}

func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ContextKeyIdempotencyKey, key)
}

// Now returns the request-scoped time, falling back to the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Workers that need consistent time within a batch operation
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
