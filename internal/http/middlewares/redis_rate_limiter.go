package middlewares

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter enforces a fixed window per key across replicas.
// Key format: ratelimit:<scope>:<key>:<window_start_unix>
type RedisRateLimiter struct {
	client *redis.Client
	scope  string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, scope string, limit int, window time.Duration) *RedisRateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &RedisRateLimiter{
		client: client,
		scope:  scope,
		limit:  limit,
		window: window,
	}
}

func (rl *RedisRateLimiter) RateLimiterMiddleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			key = clientIP(c)
		}

		now := time.Now()
		windowStart := now.Truncate(rl.window)
		redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", rl.scope, key, windowStart.Unix())

		ctx := c.Request.Context()

		count, err := rl.client.Incr(ctx, redisKey).Result()

		if err != nil {
			// fail open: a redis outage must not take auth down with it
			slog.Default().WarnContext(ctx, "redis_rate_limit_unavailable", "err", err)
			c.Next()
			return
		}

		if count == 1 {
			_ = rl.client.Expire(ctx, redisKey, rl.window).Err()
		}

		if count > int64(rl.limit) {
			retryAfter := int(time.Until(windowStart.Add(rl.window)).Seconds())

			if retryAfter < 0 {
				retryAfter = 0
			}

			abortRateLimited(c, retryAfter)
			return
		}

		c.Next()
	}
}
