package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kinledger/internal/ratelimit/models"
)

// Redis is a sliding-window limiter shared by every instance. Each window is
// a sorted set of request timestamps.
type Redis struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, now: time.Now}
}

func (s *Redis) WithClock(now func() time.Time) *Redis {
	s.now = now
	return s
}

// Allow records the hit and counts the window in one MULTI, so concurrent
// callers see each other's hits. A hit over the limit is removed again.
func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	now := s.now()
	cutoff := now.Add(-window).UnixMicro()
	member := uuid.NewString()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		p.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMicro()), Member: member})
		card = p.ZCard(ctx, key)
		oldest = p.ZRangeWithScores(ctx, key, 0, 0)
		p.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record rate hit: %w", err)
	}

	count := int(card.Val())
	resetAt := now.Add(window)
	if zs := oldest.Val(); len(zs) > 0 {
		resetAt = time.UnixMicro(int64(zs[0].Score)).Add(window)
	}
	if count > limit {
		if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
			return nil, fmt.Errorf("drop rejected hit: %w", err)
		}
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt.Sub(now)),
		}, nil
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}
