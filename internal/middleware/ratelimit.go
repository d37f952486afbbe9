package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/pkg/response"
)

// Limiter decides whether one more hit on key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// fixedWindow increments the counter and starts the window on the first hit.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

// RedisLimiter is a fixed-window counter shared by every portal instance.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: "portal:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := fixedWindow.Run(ctx, l.rdb, []string{l.prefix + key}, limit, window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// MemoryLimiter is the single-process equivalent of RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*counter
	now     func() time.Time
}

type counter struct {
	count int
	until time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*counter), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, d time.Duration) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.until) {
		w = &counter{until: now.Add(d)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}

// RateLimitMiddleware limits requests per client IP and route. Limiter
// failures let the request through.
func RateLimitMiddleware(limiter Limiter, name string, limit int, window time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := name + ":" + clientIP(r)
			ok, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				response.TooManyRequests(w, "Слишком много попыток. Попробуйте позже.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr, which chi's RealIP has already
// replaced with the forwarded address when present.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
