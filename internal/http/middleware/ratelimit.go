package middleware

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig config for Redis-based RPS limiter.
type RateLimitConfig struct {
	Redis          *redis.Client
	DefaultRPS     int              // fallback if the client has no RPS of its own
	KeyPrefix      string           // e.g. "rl:client:"
	Window         time.Duration    // usually 1s
	RetryAfterHint bool             // set Retry-After header when limited
	Now            func() time.Time // defaults to time.Now
}

// RateLimitMiddleware applies a simple fixed-window per-client RPS limit.
// It expects the client name in echo.Context (set by APIKeyMiddleware).
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:client:"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			client, ok := ClientFromCtx(c)
			if !ok {
				return next(c)
			}

			max := cfg.DefaultRPS
			if m, ok := c.Get(ctxClientRPS).(int); ok && m > 0 {
				max = m
			}
			if max <= 0 || cfg.Redis == nil {
				// no limit configured or redis missing (dev): allow
				return next(c)
			}

			// fixed-window key: rl:client:{name}:{window index}
			now := cfg.Now()
			slot := now.UnixNano() / int64(cfg.Window)
			key := cfg.KeyPrefix + client + ":" + strconv.FormatInt(slot, 10)

			// INCR and set expiry 2*window (safety)
			ctx := c.Request().Context()
			pipe := cfg.Redis.Pipeline()
			cnt := pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, cfg.Window*2)
			if _, err := pipe.Exec(ctx); err != nil {
				return next(c)
			}

			if cnt.Val() > int64(max) {
				if cfg.RetryAfterHint {
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					secs := int((remain + time.Second - 1) / time.Second)
					c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
