package idempotency

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	id "kinledger/pkg/domain"
)

const defaultCacheTTL = 24 * time.Hour

// RedisCache keeps committed records in Redis so replays skip the database.
// Cache failures are logged and treated as misses.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func cacheKey(profileID id.ProfileID, key string) string {
	return "idem:" + profileID.String() + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, profileID id.ProfileID, key string) (*Record, bool) {
	raw, err := c.client.Get(ctx, cacheKey(profileID, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "idempotency cache read failed", "error", err)
		}
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (c *RedisCache) Set(ctx context.Context, rec *Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(rec.ProfileID, rec.Key), raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "idempotency cache write failed", "error", err)
	}
}
