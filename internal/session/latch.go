package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventhub/partner-portal/internal/auth"
)

// Latch admits exactly one exchange attempt per transfer token.
type Latch interface {
	Claim(ctx context.Context, token string, ttl time.Duration) (bool, error)
}

// RedisLatch records claimed transfer tokens by hash with SET NX.
type RedisLatch struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLatch creates a new redis-backed latch
func NewRedisLatch(rdb *redis.Client) *RedisLatch {
	return &RedisLatch{rdb: rdb, prefix: "portal:transfer:"}
}

// Claim returns true for the first caller presenting the token.
func (l *RedisLatch) Claim(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return l.rdb.SetNX(ctx, l.prefix+auth.HashToken(token), 1, ttl).Result()
}
