package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripswitch/breaker"
)

var _ breaker.StorageFactory = (*Factory)(nil)

func setupTestRedis(t *testing.T) *Factory {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewFactory(client)
}

func TestErrorCounter(t *testing.T) {
	ctx := context.Background()
	f := setupTestRedis(t)

	c, err := f.ErrorCounter(ctx, "cb")
	require.NoError(t, err)

	n, err := c.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	last, err := c.LastErrorAt(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	require.NoError(t, c.Increment(ctx))
	require.NoError(t, c.Increment(ctx))
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.RecordErrorAt(ctx, at))

	n, err = c.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	last, err = c.LastErrorAt(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(at))

	require.NoError(t, c.Reset(ctx))
	n, err = c.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	last, err = c.LastErrorAt(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestSuccessCounter(t *testing.T) {
	ctx := context.Background()
	f := setupTestRedis(t)

	c, err := f.SuccessCounter(ctx, "cb")
	require.NoError(t, err)

	require.NoError(t, c.Increment(ctx))
	n, err := c.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, c.Destroy(ctx))
	n, err = c.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStateCell(t *testing.T) {
	ctx := context.Background()
	f := setupTestRedis(t)

	cell, err := f.StateCell(ctx, "cb")
	require.NoError(t, err)

	// An unwritten cell reads as closed.
	state, err := cell.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, state)

	require.NoError(t, cell.TransitionToOpen(ctx))
	state, err = cell.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, state)

	require.NoError(t, cell.TransitionToHalfOpen(ctx))
	state, err = cell.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateHalfOpen, state)

	require.NoError(t, cell.Destroy(ctx))
	state, err = cell.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, state)
}

func TestTwoBreakersShareOneCircuit(t *testing.T) {
	ctx := context.Background()
	f := setupTestRedis(t)

	settings := breaker.Settings{
		Name:           "shared",
		ErrorThreshold: 2,
		ErrorTimeout:   10 * time.Second,
	}

	a, err := breaker.NewCircuitBreaker[string](ctx, f, settings)
	require.NoError(t, err)
	b, err := breaker.NewCircuitBreaker[string](ctx, f, settings)
	require.NoError(t, err)

	boom := func() (string, error) { return "", assert.AnError }
	a.Acquire(ctx, boom)
	b.Acquire(ctx, boom)

	// The second breaker's failure tripped the circuit for both.
	state, err := a.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, state)

	_, err = a.Acquire(ctx, func() (string, error) { return "ok", nil })
	assert.True(t, breaker.IsOpenCircuit(err))
}

func TestBreakerOverRedisRecovers(t *testing.T) {
	ctx := context.Background()
	f := setupTestRedis(t)

	clock := &stubClock{now: time.Now()}
	cb, err := breaker.NewCircuitBreaker[string](ctx, f, breaker.Settings{
		Name:             "cb",
		ErrorThreshold:   1,
		SuccessThreshold: 1,
		ErrorTimeout:     10 * time.Second,
		Clock:            clock,
	})
	require.NoError(t, err)

	cb.Acquire(ctx, func() (string, error) { return "", assert.AnError })
	state, err := cb.State(ctx)
	require.NoError(t, err)
	require.Equal(t, breaker.StateOpen, state)

	clock.Advance(11 * time.Second)
	result, err := cb.Acquire(ctx, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	state, err = cb.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, state)

	require.NoError(t, cb.Destroy(ctx))
}

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
