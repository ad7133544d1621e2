// Package memory provides breaker collaborators backed by in-process
// atomics. Suitable whenever all callers of a circuit live in one process.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tripswitch/breaker"
)

// Factory builds in-process collaborators. Each call produces fresh,
// independent storage; two breakers built from the same Factory do not share
// a circuit.
type Factory struct{}

// NewFactory returns a Factory for in-process collaborators.
func NewFactory() *Factory { return &Factory{} }

func (*Factory) ErrorCounter(context.Context, string) (breaker.ErrorCounter, error) {
	return &errorCounter{}, nil
}

func (*Factory) SuccessCounter(context.Context, string) (breaker.SuccessCounter, error) {
	return &successCounter{}, nil
}

func (*Factory) StateCell(context.Context, string) (breaker.StateCell, error) {
	return &stateCell{}, nil
}

type errorCounter struct {
	count atomic.Int64
	last  atomic.Int64 // unix nanoseconds; 0 means no failure recorded
}

func (c *errorCounter) Increment(context.Context) error {
	c.count.Add(1)
	return nil
}

func (c *errorCounter) Reset(context.Context) error {
	c.count.Store(0)
	c.last.Store(0)
	return nil
}

func (c *errorCounter) Value(context.Context) (int64, error) {
	return c.count.Load(), nil
}

func (c *errorCounter) LastErrorAt(context.Context) (time.Time, error) {
	ns := c.last.Load()
	if ns == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, ns), nil
}

func (c *errorCounter) RecordErrorAt(_ context.Context, t time.Time) error {
	c.last.Store(t.UnixNano())
	return nil
}

func (c *errorCounter) Destroy(ctx context.Context) error {
	return c.Reset(ctx)
}

type successCounter struct {
	count atomic.Int64
}

func (c *successCounter) Increment(context.Context) error {
	c.count.Add(1)
	return nil
}

func (c *successCounter) Reset(context.Context) error {
	c.count.Store(0)
	return nil
}

func (c *successCounter) Value(context.Context) (int64, error) {
	return c.count.Load(), nil
}

func (c *successCounter) Destroy(ctx context.Context) error {
	return c.Reset(ctx)
}

// stateCell relies on breaker.StateClosed being the zero value, so an
// untouched cell reads as closed.
type stateCell struct {
	state atomic.Int32
}

func (s *stateCell) Value(context.Context) (breaker.State, error) {
	return breaker.State(s.state.Load()), nil
}

func (s *stateCell) TransitionToClosed(context.Context) error {
	s.state.Store(int32(breaker.StateClosed))
	return nil
}

func (s *stateCell) TransitionToOpen(context.Context) error {
	s.state.Store(int32(breaker.StateOpen))
	return nil
}

func (s *stateCell) TransitionToHalfOpen(context.Context) error {
	s.state.Store(int32(breaker.StateHalfOpen))
	return nil
}

func (s *stateCell) Destroy(context.Context) error {
	s.state.Store(int32(breaker.StateClosed))
	return nil
}
