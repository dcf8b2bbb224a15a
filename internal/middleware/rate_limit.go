package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:operation:"

// OperationRateLimit caps submissions per wallet per minute using a Redis counter
// shared by all API replicas. It is a no-op when cache is nil or perMinute is not
// positive, and fails open on cache errors.
func OperationRateLimit(cache *redis.Client, perMinute int, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil || perMinute <= 0 {
			return c.Next()
		}
		subject := c.Params("walletId")
		if subject == "" {
			subject = c.IP()
		}
		key := rateLimitPrefix + subject

		ctx, cancel := context.WithTimeout(c.UserContext(), cacheOpTimeout)
		defer cancel()

		count, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limit check failed", slog.String("key", key), slog.Any("error", err))
			return c.Next()
		}
		if count == 1 {
			cache.Expire(ctx, key, time.Minute)
		}
		if count > int64(perMinute) {
			return fiber.NewError(http.StatusTooManyRequests, "too many operations for this wallet, try again later")
		}
		return c.Next()
	}
}
