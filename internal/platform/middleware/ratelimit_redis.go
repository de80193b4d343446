package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces a fixed-window request count shared by every server
// instance. Each window is one INCR'd key that expires with the window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows the larger of cfg.BurstSize and
// cfg.RequestsPerSecond requests per client in each one-second window.
func NewRedisLimiter(client *redis.Client, cfg RateLimitConfig) *RedisLimiter {
	limit := int64(cfg.BurstSize)
	if rps := int64(cfg.RequestsPerSecond); rps > limit {
		limit = rps
	}
	return &RedisLimiter{
		client: client,
		prefix: "lims:ratelimit:",
		limit:  limit,
		window: time.Second,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	slot := now.Truncate(l.window)
	k := fmt.Sprintf("%s%s:%d", l.prefix, key, slot.Unix())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, 2*l.window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	if incr.Val() > l.limit {
		retry := int(slot.Add(l.window).Sub(now).Seconds())
		if retry < 1 {
			retry = 1
		}
		return Decision{RetryAfter: retry}, nil
	}
	return Decision{Allowed: true}, nil
}
