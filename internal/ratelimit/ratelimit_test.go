package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttutor-systems/trustcore/internal/metrics"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	limiter := NewMemoryLimiter(8, time.Minute).(*memoryLimiter)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	limiter.now = func() time.Time { return current }

	ctx := context.Background()

	// First 8 calls within the window are allowed, the 9th is rejected.
	for i := 0; i < 8; i++ {
		allowed, err := limiter.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed, "9th call within window should be rejected")

	// A different key is unaffected.
	allowed, err = limiter.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed)

	// 61 seconds later the window has slid past the original calls.
	current = base.Add(61 * time.Second)
	allowed, err = limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed, "call after window expiry should be accepted")
}

func TestMemoryLimiter_ConcurrentSameKey(t *testing.T) {
	limiter := NewMemoryLimiter(10, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := limiter.Allow(ctx, "same-key")
			if err == nil && allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowedCount, "exactly the limit must pass under concurrency")
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	limiter := NewRedisLimiter(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other keys keep their own window.
	allowed, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryLimiter_EvictsIdleKeys(t *testing.T) {
	limiter := NewMemoryLimiter(8, time.Minute).(*memoryLimiter)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	limiter.now = func() time.Time { return current }

	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := limiter.Allow(ctx, fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		require.NoError(t, err)
	}
	require.Len(t, limiter.entries, 100)

	// Once the window has rolled past, the next request sweeps out every
	// idle key instead of letting the map grow with distinct addresses.
	current = base.Add(2 * time.Minute)
	_, err := limiter.Allow(ctx, "203.0.113.9")
	require.NoError(t, err)
	assert.Len(t, limiter.entries, 1)
}

func TestNoOpLimiter(t *testing.T) {
	limiter := &NoOpLimiter{}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(ctx, "any")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.NoError(t, limiter.Close())
}

func TestMemoryBlocklist(t *testing.T) {
	bl := NewMemoryBlocklist().(*memoryBlocklist)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	bl.now = func() time.Time { return current }

	ctx := context.Background()

	blocked, err := bl.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, bl.Block(ctx, "1.2.3.4", 24*time.Hour))

	blocked, err = bl.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, blocked)

	// The block expires after its duration.
	current = base.Add(25 * time.Hour)
	blocked, err = bl.IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlockCountsOnce(t *testing.T) {
	bl := NewMemoryBlocklist()
	before := testutil.ToFloat64(metrics.IPBlocks)

	require.NoError(t, bl.Block(context.Background(), "198.51.100.7", time.Hour))

	// The block counter moves exactly once per block, inside the
	// blocklist itself.
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.IPBlocks))
}

func TestRedisBlocklist(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	bl := NewRedisBlocklist(client)
	ctx := context.Background()

	require.NoError(t, bl.Block(ctx, "9.9.9.9", time.Hour))

	blocked, err := bl.IsBlocked(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.True(t, blocked)

	mr.FastForward(2 * time.Hour)

	blocked, err = bl.IsBlocked(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.False(t, blocked)
}
