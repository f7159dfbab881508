package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smarttutor-systems/trustcore/internal/metrics"
)

// Limiter is a sliding-window request throttle keyed by client address.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

type redisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed sliding window limiter.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) Limiter {
	return &redisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

// Allow implements sliding window rate limiting. The Lua script makes the
// prune-count-append sequence atomic: two simultaneous requests for the same
// key cannot both slip under the limit.
func (r *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()

	script := `
		local key = KEYS[1]
		local now = tonumber(ARGV[1])
		local window_start = tonumber(ARGV[2])
		local limit = tonumber(ARGV[3])
		local ttl = tonumber(ARGV[4])

		redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

		local current = redis.call('ZCARD', key)

		if current < limit then
			redis.call('ZADD', key, now, now)
			redis.call('EXPIRE', key, ttl)
			return 1
		else
			return 0
		end
	`

	ttl := int64(r.window.Seconds()) + 1
	result, err := r.client.Eval(ctx, script, []string{"ratelimit:" + key}, now, windowStart, r.limit, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result == 1
	if !allowed {
		metrics.RateLimitHits.Inc()
	}

	return allowed, nil
}

func (r *redisLimiter) Close() error {
	return nil
}

// memoryLimiter keeps per-key timestamp sets under a single mutex. Suitable
// for single-process deployments and tests.
type memoryLimiter struct {
	mu        sync.Mutex
	entries   map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter creates an in-process sliding window limiter.
func NewMemoryLimiter(limit int, window time.Duration) Limiter {
	return &memoryLimiter{
		entries: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// sweep drops keys whose timestamps have all aged out, so the map does not
// grow without bound with distinct client addresses. Caller holds m.mu.
func (m *memoryLimiter) sweep(cutoff time.Time) {
	for key, stamps := range m.entries {
		live := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = append(live, ts)
			}
		}
		if len(live) == 0 {
			delete(m.entries, key)
		} else {
			m.entries[key] = live
		}
	}
}

func (m *memoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	if now.Sub(m.lastSweep) > m.window {
		m.sweep(cutoff)
		m.lastSweep = now
	}

	kept := m.entries[key][:0]
	for _, ts := range m.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= m.limit {
		m.entries[key] = kept
		metrics.RateLimitHits.Inc()
		return false, nil
	}

	m.entries[key] = append(kept, now)
	return true, nil
}

func (m *memoryLimiter) Close() error {
	return nil
}

// NoOpLimiter always allows requests (for disabled rate limiting).
type NoOpLimiter struct{}

func (n *NoOpLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (n *NoOpLimiter) Close() error {
	return nil
}
