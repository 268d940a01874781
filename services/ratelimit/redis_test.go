package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisTestLimiter(t *testing.T, clock *fakeClock, m map[string]int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLimiter(client, budgets(m), Config{Window: time.Minute, Now: clock.Now}, zap.NewNop()), mr
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter, mr := newRedisTestLimiter(t, clock, map[string]int{"openai": 2})

	start := clock.Now()
	ok, err := limiter.TryAcquire(ctx, "openai")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(10 * time.Second)
	ok, err = limiter.TryAcquire(ctx, "openai")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.TryAcquire(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, ok)

	usage, err := limiter.Usage(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Used)
	assert.Equal(t, 2, usage.Limit)
	assert.True(t, usage.ResetAt.Equal(start.Add(time.Minute)), "reset at %s", usage.ResetAt)

	assert.True(t, mr.Exists(defaultKeyPrefix+"openai"))

	clock.Advance(50 * time.Second)
	ok, err = limiter.TryAcquire(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, ok, "first admission left the window")
}

func TestRedisLimiter_ZeroBudget(t *testing.T) {
	limiter, mr := newRedisTestLimiter(t, newFakeClock(), map[string]int{})

	ok, err := limiter.TryAcquire(context.Background(), "gemini")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(defaultKeyPrefix+"gemini"))
}

func TestRedisLimiter_Concurrent(t *testing.T) {
	const budget = 10
	ctx := context.Background()
	limiter, _ := newRedisTestLimiter(t, newFakeClock(), map[string]int{"mistral": budget})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := limiter.TryAcquire(ctx, "mistral"); err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, budget, admitted.Load())
}

func TestRedisLimiter_ConnectionError(t *testing.T) {
	limiter, mr := newRedisTestLimiter(t, newFakeClock(), map[string]int{"openai": 5})
	mr.Close()

	ok, err := limiter.TryAcquire(context.Background(), "openai")
	assert.Error(t, err)
	assert.False(t, ok)

	assert.Error(t, limiter.Ping(context.Background()))
}
