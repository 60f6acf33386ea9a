package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"norvis/internal/clock"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	return client, mr
}

func TestRedisStoreSequence(t *testing.T) {
	client, mr := setupTestRedis(t)
	clk := clock.NewFake(t0)
	cfg := DefaultConfig()
	l := NewLimiter(NewRedisStore(client, cfg), cfg, zerolog.Nop(), WithClock(clk))
	t.Cleanup(func() { _ = l.Close() })
	ctx := context.Background()
	ip := "203.0.113.5"

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndConsume(ctx, ip)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	clk.Set(t0.Add(10 * time.Minute))
	d, err := l.CheckAndConsume(ctx, ip)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3000, d.RetryAfterSeconds)

	ttl := mr.TTL(redisKeyPrefix + ip)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)

	clk.Set(t0.Add(time.Hour))
	d, err = l.CheckAndConsume(ctx, ip)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "boundary instant counts as expired")
}

func TestRedisStoreKeyExpiresWithWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	cfg := DefaultConfig()
	store := NewRedisStore(client, cfg)
	ctx := context.Background()

	_, err := store.CheckAndConsume(ctx, "ip", t0)
	require.NoError(t, err)
	assert.True(t, mr.Exists(redisKeyPrefix+"ip"))

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, mr.Exists(redisKeyPrefix+"ip"))

	n, err := store.Sweep(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisStoreConcurrent(t *testing.T) {
	client, _ := setupTestRedis(t)
	cfg := DefaultConfig()
	store := NewRedisStore(client, cfg)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.CheckAndConsume(ctx, "192.0.2.9", t0)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), allowed.Load())
}

func TestRedisStoreUnavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	cfg := DefaultConfig()
	store := NewRedisStore(client, cfg)
	mr.Close()

	_, err := store.CheckAndConsume(context.Background(), "ip", t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}
