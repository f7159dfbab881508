package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smarttutor-systems/trustcore/internal/metrics"
)

// Blocklist tracks source addresses blocked by incident response. Entries
// expire on their own after the block duration.
type Blocklist interface {
	Block(ctx context.Context, ip string, duration time.Duration) error
	IsBlocked(ctx context.Context, ip string) (bool, error)
}

type redisBlocklist struct {
	client *redis.Client
}

// NewRedisBlocklist creates a Redis-backed blocklist (SET with TTL).
func NewRedisBlocklist(client *redis.Client) Blocklist {
	return &redisBlocklist{client: client}
}

func (b *redisBlocklist) Block(ctx context.Context, ip string, duration time.Duration) error {
	if err := b.client.Set(ctx, "blocked:"+ip, "1", duration).Err(); err != nil {
		return fmt.Errorf("failed to block %s: %w", ip, err)
	}
	metrics.IPBlocks.Inc()
	return nil
}

func (b *redisBlocklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	n, err := b.client.Exists(ctx, "blocked:"+ip).Result()
	if err != nil {
		return false, fmt.Errorf("blocklist check failed: %w", err)
	}
	return n > 0, nil
}

type memoryBlocklist struct {
	mu      sync.RWMutex
	blocked map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlocklist creates an in-process blocklist.
func NewMemoryBlocklist() Blocklist {
	return &memoryBlocklist{
		blocked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (b *memoryBlocklist) Block(ctx context.Context, ip string, duration time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[ip] = b.now().Add(duration)
	metrics.IPBlocks.Inc()
	return nil
}

func (b *memoryBlocklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	b.mu.RLock()
	until, ok := b.blocked[ip]
	b.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if b.now().After(until) {
		b.mu.Lock()
		delete(b.blocked, ip)
		b.mu.Unlock()
		return false, nil
	}
	return true, nil
}
