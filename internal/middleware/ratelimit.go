package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TokenRateLimit caps token issuance attempts per client IP using a
// fixed one-minute window in Redis. A nil client or non-positive limit
// disables the middleware, and Redis errors fail open so an outage
// never blocks logins.
func TokenRateLimit(rdb *redis.Client, limit int, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rdb == nil || limit <= 0 {
				return next(c)
			}
			ctx := c.Request().Context()
			key := fmt.Sprintf("rl:tokens:%s:%d", c.RealIP(), time.Now().Unix()/60)

			count, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				log.Warn("rate limiter unavailable", zap.Error(err))
				return next(c)
			}
			if count == 1 {
				if err := rdb.Expire(ctx, key, time.Minute).Err(); err != nil {
					log.Warn("rate limiter expire failed", zap.Error(err))
				}
			}
			if count > int64(limit) {
				return c.JSON(http.StatusTooManyRequests, echo.Map{"message": "too many requests"})
			}
			return next(c)
		}
	}
}
