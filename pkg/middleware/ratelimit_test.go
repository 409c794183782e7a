package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowAndExhaust(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute, BurstSize: 0})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("k"), "request %d", i)
	}
	assert.False(t, rl.Allow("k"))
	// Separate keys have separate buckets.
	assert.True(t, rl.Allow("other"))
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 60, WindowDuration: time.Minute, BurstSize: 0})
	for i := 0; i < 60; i++ {
		rl.Allow("k")
	}
	assert.False(t, rl.Allow("k"))

	// Backdate the bucket one second: one token refills.
	rl.mu.Lock()
	rl.buckets["k"].lastUpdate = time.Now().Add(-time.Second)
	rl.mu.Unlock()
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Second, BurstSize: 0})
	rl.Allow("stale")
	rl.mu.Lock()
	rl.buckets["stale"].lastUpdate = time.Now().Add(-time.Minute)
	rl.mu.Unlock()

	rl.Cleanup()

	rl.mu.RLock()
	_, exists := rl.buckets["stale"]
	rl.mu.RUnlock()
	assert.False(t, exists)
}

func TestRateLimitMiddlewareKeysByUser(t *testing.T) {
	m := &RateLimitMiddleware{
		userLimiter: NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute, BurstSize: 0}),
		anonLimiter: NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute, BurstSize: 0}),
	}
	var hit bool
	handler := m.Handler(passThrough(t, &hit))

	// First request per user passes, second is limited.
	req := withUser(httptest.NewRequest("GET", "/", nil), 1, false)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withUser(httptest.NewRequest("GET", "/", nil), 1, false))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different user has their own bucket.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withUser(httptest.NewRequest("GET", "/", nil), 2, false))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "test")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := rl.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := rl.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := rl.Remaining(ctx, "user:1")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	// Window expiry restores the quota.
	mr.FastForward(2 * time.Minute)
	allowed, err = rl.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDistributedRateLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rl := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "test")

	mr.Close()
	allowed, err := rl.Allow(context.Background(), "user:1")
	assert.Error(t, err)
	assert.True(t, allowed, "redis outage must not block requests")
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m := &DistributedRateLimitMiddleware{
		userLimiter: NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "u"),
		anonLimiter: NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, "a"),
	}
	var hit bool
	handler := m.Handler(passThrough(t, &hit))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withUser(httptest.NewRequest("GET", "/", nil), 1, false))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withUser(httptest.NewRequest("GET", "/", nil), 1, false))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
