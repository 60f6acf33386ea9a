package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"norvis/internal/clock"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T) (*Limiter, *MemoryStore, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	cfg := DefaultConfig()
	store := NewMemoryStore(cfg)
	l := NewLimiter(store, cfg, zerolog.Nop(), WithClock(clk))
	t.Cleanup(func() { _ = l.Close() })
	return l, store, clk
}

func TestMemoryStoreAllowsUpToMax(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndConsume(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.CheckAndConsume(ctx, "198.51.100.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3600, d.RetryAfterSeconds)
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	l, store, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.CheckAndConsume(ctx, "a")
		require.NoError(t, err)
	}
	d, err := l.CheckAndConsume(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, store.Len())
}

func TestGuestScenario(t *testing.T) {
	l, _, clk := newTestLimiter(t)
	ctx := context.Background()
	ip := "203.0.113.5"

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndConsume(ctx, ip)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		clk.Advance(time.Minute)
	}

	// Fourth message ten minutes after the first.
	clk.Set(t0.Add(10 * time.Minute))
	d, err := l.CheckAndConsume(ctx, ip)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 3000, d.RetryAfterSeconds)

	// 61 minutes after the first message the window has rolled.
	clk.Set(t0.Add(61 * time.Minute))
	d, err = l.CheckAndConsume(ctx, ip)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestWindowBoundaryIsExpired(t *testing.T) {
	l, _, clk := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.CheckAndConsume(ctx, "ip")
		require.NoError(t, err)
	}

	clk.Set(t0.Add(time.Hour - time.Millisecond))
	d, err := l.CheckAndConsume(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "window still active one millisecond before the boundary")
	assert.Equal(t, 1, d.RetryAfterSeconds)

	clk.Set(t0.Add(time.Hour))
	d, err = l.CheckAndConsume(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "window expired exactly at the boundary")
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	l, store, clk := newTestLimiter(t)
	ctx := context.Background()

	_, err := l.CheckAndConsume(ctx, "old")
	require.NoError(t, err)
	clk.Advance(30 * time.Minute)
	_, err = l.CheckAndConsume(ctx, "new")
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	n, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())

	clk.Advance(30 * time.Minute)
	n, err = l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, store.Len())
}

func TestConcurrentRequestsDoNotOvershoot(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	const n = 50
	var allowed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := l.CheckAndConsume(ctx, "192.0.2.1")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(3), allowed.Load())
}

func TestStartAndCloseSweeper(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	clk := clock.NewFake(t0)
	store := NewMemoryStore(cfg)
	l := NewLimiter(store, cfg, zerolog.Nop(), WithClock(clk))

	_, err := l.CheckAndConsume(context.Background(), "ip")
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)

	l.Start()
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestCloseWithoutStart(t *testing.T) {
	cfg := DefaultConfig()
	l := NewLimiter(NewMemoryStore(cfg), cfg, zerolog.Nop())
	assert.NoError(t, l.Close())
}

type brokenStore struct{ MemoryStore }

func (*brokenStore) CheckAndConsume(context.Context, string, time.Time) (Decision, error) {
	return Decision{}, errors.New("disk quota exceeded")
}

func TestCustomStoreErrorsAreWrapped(t *testing.T) {
	l := NewLimiter(&brokenStore{}, DefaultConfig(), zerolog.Nop())
	_, err := l.CheckAndConsume(context.Background(), "203.0.113.5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "disk quota exceeded")
}
