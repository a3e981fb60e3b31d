package security

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

// RateLimiter caps requests per client IP over a fixed window, backed by
// Redis so every webhook replica shares the same window. The webhook
// endpoint answers with a silent 200 on bad tokens, so the limiter is
// what actually stops a token brute force.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int64, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// WebhookRateLimit is an echo middleware enforcing the per-IP cap. Redis
// errors fail open: dropping legitimate processor callbacks costs more
// than letting a burst through.
func (r *RateLimiter) WebhookRateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := fmt.Sprintf("ratelimit:webhook:%s", c.RealIP())

			count, err := r.redis.Incr(ctx, key).Result()
			if err == nil {
				if count == 1 {
					r.redis.Expire(ctx, key, r.window)
				}
				if count > r.limit {
					return c.JSON(http.StatusTooManyRequests, map[string]string{
						"error": "Too many requests",
					})
				}
			}
			return next(c)
		}
	}
}
