package breaker

import "context"

// TwoStepCircuitBreaker is like CircuitBreaker but instead of surrounding an
// operation with the breaker functionality, it only checks whether a call can
// proceed and expects the caller to report the outcome in a separate step
// using a callback.
type TwoStepCircuitBreaker[T any] struct {
	cb *CircuitBreaker[T]
}

// NewTwoStepCircuitBreaker returns a new TwoStepCircuitBreaker configured
// with the given Settings.
func NewTwoStepCircuitBreaker[T any](ctx context.Context, factory StorageFactory, st Settings) (*TwoStepCircuitBreaker[T], error) {
	cb, err := NewCircuitBreaker[T](ctx, factory, st)
	if err != nil {
		return nil, err
	}
	return &TwoStepCircuitBreaker[T]{cb: cb}, nil
}

// Name returns the name of the TwoStepCircuitBreaker.
func (ts *TwoStepCircuitBreaker[T]) Name() string {
	return ts.cb.Name()
}

// State returns the current state of the TwoStepCircuitBreaker.
func (ts *TwoStepCircuitBreaker[T]) State(ctx context.Context) (State, error) {
	return ts.cb.State(ctx)
}

// Counts returns a snapshot of the breaker's counters.
func (ts *TwoStepCircuitBreaker[T]) Counts(ctx context.Context) (Counts, error) {
	return ts.cb.Counts(ctx)
}

// Allow checks if a new call can proceed. It returns a callback that should
// be used to report the call's error (nil for success) in a separate step.
// If the breaker rejects the call, Allow returns an OpenCircuitError; in
// dry-run mode it returns a callback even when the circuit is open, and the
// reported outcome is treated as observation only, exactly like Acquire.
func (ts *TwoStepCircuitBreaker[T]) Allow(ctx context.Context) (done func(error), err error) {
	if err := ts.cb.admit(ctx); err != nil {
		return nil, err
	}
	return func(opErr error) {
		ts.cb.recordOutcome(ctx, opErr)
	}, nil
}

// Reset unconditionally clears both counters and closes the circuit.
func (ts *TwoStepCircuitBreaker[T]) Reset(ctx context.Context) error {
	return ts.cb.Reset(ctx)
}

// Destroy releases the breaker's collaborators. Terminal.
func (ts *TwoStepCircuitBreaker[T]) Destroy(ctx context.Context) error {
	return ts.cb.Destroy(ctx)
}
