package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/transflow/api/internal/logger"
	"github.com/transflow/api/pkg/response"
)

// RateLimiter is a fixed-window limiter keyed by user, backed by redis
type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit creates a rate limiting middleware. A non-positive maxRequests
// disables it.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxRequests <= 0 {
			return c.Next()
		}
		userID := GetUserID(c)
		if userID == "" {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// fail open
			logger.CtxWarn(ctx, "rate limiter unavailable: %v", err)
			return c.Next()
		}
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(maxRequests-int(count)))
		return c.Next()
	}
}

// BatchLimit limits batch starts per minute
func (rl *RateLimiter) BatchLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("batch", maxPerMin, time.Minute)
}

// AgentLimit limits single-stage agent runs per minute
func (rl *RateLimiter) AgentLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("agent", maxPerMin, time.Minute)
}
