package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cloudrounds/rounds/pkg/auth"
)

// DistributedRateLimiter shares a fixed-window counter across instances
// through Redis.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed limiter.
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{redis: redisClient, config: config, prefix: prefix}
}

// Allow counts the request for key. A Redis error fails open so a cache
// outage never takes the API down with it.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.prefix + ":" + key

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns how many requests are left in the window for key.
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := rl.prefix + ":" + key
	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	}
	if err != nil {
		return 0, err
	}
	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the window resets for key.
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.prefix+":"+key).Result()
}

// Reset clears the counter for key.
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.prefix+":"+key).Err()
}

// DistributedRateLimitMiddleware applies shared limits across instances.
type DistributedRateLimitMiddleware struct {
	userLimiter *DistributedRateLimiter
	anonLimiter *DistributedRateLimiter
}

// NewDistributedRateLimitMiddleware creates the Redis-backed middleware.
func NewDistributedRateLimitMiddleware(redisClient *redis.Client) *DistributedRateLimitMiddleware {
	return &DistributedRateLimitMiddleware{
		userLimiter: NewDistributedRateLimiter(redisClient, PerUserRateLimitConfig(), "ratelimit:user"),
		anonLimiter: NewDistributedRateLimiter(redisClient, DefaultRateLimitConfig(), "ratelimit:anon"),
	}
}

// Handler wraps next with distributed rate limiting.
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key, limiter := m.pick(r)

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			// Fail open.
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())+1))
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *DistributedRateLimitMiddleware) pick(r *http.Request) (string, *DistributedRateLimiter) {
	if authCtx, ok := auth.FromContext(r.Context()); ok {
		return fmt.Sprintf("user:%d", authCtx.User.ID), m.userLimiter
	}
	return "ip:" + clientIP(r), m.anonLimiter
}
