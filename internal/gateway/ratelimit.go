package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/example/ec-platform/internal/logging"
)

// Limiter decides whether a client may proceed. The Redis implementation is
// shared by every gateway replica; tests substitute a stub.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// slidingWindow trims a per-client sorted set to the window, counts what is
// left, and admits the request if the count is under the limit. Running as
// one script keeps check-and-add atomic across gateway replicas.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, now .. '-' .. redis.call('INCR', key .. ':seq'))
redis.call('PEXPIRE', key, window)
redis.call('PEXPIRE', key .. ':seq', window)
return 1
`)

// RedisLimiter is a sliding-window rate limiter keyed per client.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := slidingWindow.Run(ctx, l.rdb,
		[]string{"ratelimit:" + key},
		time.Now().UnixMilli(), l.window.Milliseconds(), l.limit,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return res == 1, nil
}

// RateLimit rejects over-limit clients with 429. When the limiter itself
// fails the request is admitted: a broken Redis must not take the whole
// API down.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	log := logging.New("ratelimit")
	return func(c *gin.Context) {
		ok, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn("limiter unavailable, admitting request", "error", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status": "error", "message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
