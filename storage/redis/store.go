// Package redis provides breaker collaborators backed by Redis, so that
// breakers in different processes built with the same name observe one
// shared circuit.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/tripswitch/breaker"
)

const lockExpiry = 5 * time.Second

// Factory builds Redis-backed collaborators on top of a shared client.
// Resources are keyed by breaker name under the "breaker:" prefix.
type Factory struct {
	client *redis.Client
	rs     *redsync.Redsync
}

// NewFactory returns a Factory using the given client.
func NewFactory(client *redis.Client) *Factory {
	return &Factory{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
	}
}

// NewFactoryFromAddr returns a Factory with its own client for addr.
func NewFactoryFromAddr(addr string) *Factory {
	return NewFactory(redis.NewClient(&redis.Options{Addr: addr}))
}

func (f *Factory) ErrorCounter(_ context.Context, name string) (breaker.ErrorCounter, error) {
	return &errorCounter{
		client:   f.client,
		countKey: key(name, "errors"),
		lastKey:  key(name, "errors:last"),
	}, nil
}

func (f *Factory) SuccessCounter(_ context.Context, name string) (breaker.SuccessCounter, error) {
	return &successCounter{
		client: f.client,
		key:    key(name, "successes"),
	}, nil
}

func (f *Factory) StateCell(_ context.Context, name string) (breaker.StateCell, error) {
	return &stateCell{
		client:  f.client,
		rs:      f.rs,
		key:     key(name, "state"),
		lockKey: key(name, "state:lock"),
	}, nil
}

func key(name, suffix string) string {
	return "breaker:" + name + ":" + suffix
}

type errorCounter struct {
	client   *redis.Client
	countKey string
	lastKey  string
}

func (c *errorCounter) Increment(ctx context.Context) error {
	return c.client.Incr(ctx, c.countKey).Err()
}

func (c *errorCounter) Reset(ctx context.Context) error {
	return c.client.Del(ctx, c.countKey, c.lastKey).Err()
}

func (c *errorCounter) Value(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, c.countKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *errorCounter) LastErrorAt(ctx context.Context) (time.Time, error) {
	ns, err := c.client.Get(ctx, c.lastKey).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, ns), nil
}

func (c *errorCounter) RecordErrorAt(ctx context.Context, t time.Time) error {
	return c.client.Set(ctx, c.lastKey, strconv.FormatInt(t.UnixNano(), 10), 0).Err()
}

func (c *errorCounter) Destroy(ctx context.Context) error {
	return c.Reset(ctx)
}

type successCounter struct {
	client *redis.Client
	key    string
}

func (c *successCounter) Increment(ctx context.Context) error {
	return c.client.Incr(ctx, c.key).Err()
}

func (c *successCounter) Reset(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

func (c *successCounter) Value(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, c.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *successCounter) Destroy(ctx context.Context) error {
	return c.Reset(ctx)
}

// stateCell serializes transitions under a redsync mutex so that competing
// processes do not interleave their writes. Reads are lock-free.
type stateCell struct {
	client  *redis.Client
	rs      *redsync.Redsync
	key     string
	lockKey string
}

func (s *stateCell) Value(ctx context.Context) (breaker.State, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return breaker.StateClosed, nil
	}
	if err != nil {
		return breaker.StateClosed, err
	}
	return breaker.ParseState(v)
}

func (s *stateCell) TransitionToClosed(ctx context.Context) error {
	return s.set(ctx, breaker.StateClosed)
}

func (s *stateCell) TransitionToOpen(ctx context.Context) error {
	return s.set(ctx, breaker.StateOpen)
}

func (s *stateCell) TransitionToHalfOpen(ctx context.Context) error {
	return s.set(ctx, breaker.StateHalfOpen)
}

func (s *stateCell) set(ctx context.Context, state breaker.State) error {
	mutex := s.rs.NewMutex(s.lockKey, redsync.WithExpiry(lockExpiry))
	if err := mutex.LockContext(ctx); err != nil {
		return err
	}
	defer mutex.UnlockContext(ctx)
	return s.client.Set(ctx, s.key, state.String(), 0).Err()
}

func (s *stateCell) Destroy(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
