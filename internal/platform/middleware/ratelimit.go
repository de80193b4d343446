package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// Decision is a limiter's answer for one request.
type Decision struct {
	Allowed    bool
	RetryAfter int // seconds; meaningful when Allowed is false
}

// Limiter decides whether the client identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) take(now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true}
	}
	if b.refillRate <= 0 {
		return Decision{RetryAfter: 1}
	}
	return Decision{RetryAfter: int((1-b.tokens)/b.refillRate) + 1}
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func NewLocalLimiter(cfg RateLimitConfig) *LocalLimiter {
	return &LocalLimiter{cfg: cfg, buckets: make(map[string]*tokenBucket)}
}

func (l *LocalLimiter) bucket(key string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(l.cfg.RequestsPerSecond, l.cfg.BurstSize)
		l.buckets[key] = b
	}
	return b
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	return l.bucket(key).take(time.Now()), nil
}

// clientKey scopes the limit to the lab site and client address.
func clientKey(c echo.Context) string {
	key := c.RealIP()
	if site, ok := c.Get("jwt_site_id").(string); ok && site != "" {
		key = site + ":" + key
	}
	return key
}

// RateLimit limits requests with an in-process token bucket per client.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return RateLimitWith(NewLocalLimiter(cfg), cfg)
}

// RateLimitWith limits requests with the given limiter. A limiter failure
// lets the request through; losing the shared store must not take the API
// down with it.
func RateLimitWith(l Limiter, cfg RateLimitConfig) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			d, err := l.Allow(c.Request().Context(), clientKey(c))
			if err == nil && !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
