package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/busticket/internal/adapters/redis"
	"github.com/robertarktes/busticket/internal/observability"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	redis  *redisadapter.Cache
	logger observability.Logger
}

func NewRateLimiter(redis *redisadapter.Cache, logger observability.Logger) *RateLimiter {
	return &RateLimiter{redis: redis, logger: logger}
}

// Allow fails open when redis is unreachable.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.WithField("key", fullKey).Warn("rate limiter unavailable: ", err)
		return true
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
