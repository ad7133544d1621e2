package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CircuitBreaker is a state machine to prevent sending requests that are
// likely to fail. T is the result type of the guarded operation.
//
// The breaker holds no locks of its own: every method is a sequence of
// individually atomic collaborator calls, and concurrent callers may race
// between the admission check and outcome recording. A threshold crossing can
// therefore be observed by more than one caller; competing transitions to the
// same target collapse into one.
type CircuitBreaker[T any] struct {
	name             string
	trackedErrors    []error
	errorThreshold   uint32
	successThreshold uint32
	errorTimeout     time.Duration
	dryRun           bool

	logger        *zap.Logger
	clock         Clock
	onStateChange func(name string, from State, to State)

	failures  ErrorCounter
	successes SuccessCounter
	state     StateCell
}

// Counts is a point-in-time snapshot of the breaker's counters.
type Counts struct {
	Errors      int64
	Successes   int64
	LastErrorAt time.Time
}

// NewCircuitBreaker returns a new CircuitBreaker whose counters and state
// cell are produced by factory and configured with the given Settings. The
// breaker owns the collaborators until Destroy.
func NewCircuitBreaker[T any](ctx context.Context, factory StorageFactory, st Settings) (*CircuitBreaker[T], error) {
	if factory == nil {
		return nil, errors.New("breaker: nil storage factory")
	}
	st = st.withDefaults()

	cb := &CircuitBreaker[T]{
		name:             st.Name,
		trackedErrors:    st.TrackedErrors,
		errorThreshold:   st.ErrorThreshold,
		successThreshold: st.SuccessThreshold,
		errorTimeout:     st.ErrorTimeout,
		dryRun:           st.DryRun,
		logger:           st.Logger,
		clock:            st.Clock,
		onStateChange:    st.OnStateChange,
	}

	var err error
	if cb.failures, err = factory.ErrorCounter(ctx, st.Name); err != nil {
		return nil, fmt.Errorf("breaker %q: error counter: %w", st.Name, err)
	}
	if cb.successes, err = factory.SuccessCounter(ctx, st.Name); err != nil {
		return nil, fmt.Errorf("breaker %q: success counter: %w", st.Name, err)
	}
	if cb.state, err = factory.StateCell(ctx, st.Name); err != nil {
		return nil, fmt.Errorf("breaker %q: state cell: %w", st.Name, err)
	}
	return cb, nil
}

// Name returns the name of the CircuitBreaker.
func (cb *CircuitBreaker[T]) Name() string {
	return cb.name
}

// State returns the current state of the CircuitBreaker.
func (cb *CircuitBreaker[T]) State(ctx context.Context) (State, error) {
	return cb.state.Value(ctx)
}

// IsClosed reports whether the circuit is closed.
func (cb *CircuitBreaker[T]) IsClosed(ctx context.Context) (bool, error) {
	state, err := cb.state.Value(ctx)
	return state == StateClosed, err
}

// IsOpen reports whether the circuit is open.
func (cb *CircuitBreaker[T]) IsOpen(ctx context.Context) (bool, error) {
	state, err := cb.state.Value(ctx)
	return state == StateOpen, err
}

// IsHalfOpen reports whether the circuit is half-open.
func (cb *CircuitBreaker[T]) IsHalfOpen(ctx context.Context) (bool, error) {
	state, err := cb.state.Value(ctx)
	return state == StateHalfOpen, err
}

// Counts returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker[T]) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	var err error
	if counts.Errors, err = cb.failures.Value(ctx); err != nil {
		return counts, err
	}
	if counts.Successes, err = cb.successes.Value(ctx); err != nil {
		return counts, err
	}
	counts.LastErrorAt, err = cb.failures.LastErrorAt(ctx)
	return counts, err
}

// Acquire runs op under the breaker's admission control.
//
// When the circuit is open and the error timeout has not elapsed, Acquire
// rejects the call with an OpenCircuitError without invoking op; in dry-run
// mode it logs the rejection it would have made and invokes op anyway. In
// every other case op runs exactly once and its result or error is returned
// verbatim: the breaker observes tracked errors to update its accounting but
// never transforms or swallows the operation's own outcome.
//
// Storage errors on the admission path are returned to the caller; storage
// errors while recording the outcome are logged and never mask the outcome.
// If op panics, the panic is recorded like an error and rethrown.
func (cb *CircuitBreaker[T]) Acquire(ctx context.Context, op func() (T, error)) (T, error) {
	if err := cb.admit(ctx); err != nil {
		var zero T
		return zero, err
	}

	defer func() {
		if e := recover(); e != nil {
			cb.recordOutcome(ctx, fmt.Errorf("breaker %q: panic: %v", cb.name, e))
			panic(e)
		}
	}()

	result, opErr := op()
	cb.recordOutcome(ctx, opErr)
	return result, opErr
}

// admit decides whether a call may proceed, resolving an expired open state
// into half-open first.
func (cb *CircuitBreaker[T]) admit(ctx context.Context) error {
	state, err := cb.state.Value(ctx)
	if err != nil {
		return err
	}

	if state == StateOpen {
		elapsed, err := cb.timeoutElapsed(ctx)
		if err != nil {
			return err
		}
		if elapsed {
			if err := cb.toHalfOpen(ctx, state); err != nil {
				return err
			}
			state = StateHalfOpen
		}
	}

	allowed := state == StateClosed || state == StateHalfOpen
	if !allowed {
		// Re-check the timeout: a competing caller may have recorded a
		// failure between the transition above and this point.
		elapsed, err := cb.timeoutElapsed(ctx)
		if err != nil {
			return err
		}
		allowed = elapsed
	}
	if allowed {
		return nil
	}

	if !cb.dryRun {
		return &OpenCircuitError{Name: cb.name}
	}
	cb.logger.Info("dry run: call would have been rejected",
		zap.String("breaker", cb.name),
		zap.Stringer("state", state))
	return nil
}

// recordOutcome applies the outcome rules for one finished call. Calls that
// ran while the circuit was open (the dry-run fallthrough) are observation
// only and never touch the counters.
func (cb *CircuitBreaker[T]) recordOutcome(ctx context.Context, opErr error) {
	state, err := cb.state.Value(ctx)
	if err != nil {
		cb.logger.Warn("reading breaker state failed, outcome not recorded",
			zap.String("breaker", cb.name), zap.Error(err))
		return
	}
	if state == StateOpen {
		return
	}

	switch {
	case opErr == nil:
		cb.recordSuccess(ctx, state)
	case cb.tracks(opErr):
		cb.recordFailure(ctx, state)
	}
}

// tracks reports whether err counts toward the error threshold.
func (cb *CircuitBreaker[T]) tracks(err error) bool {
	if len(cb.trackedErrors) == 0 {
		return true
	}
	for _, kind := range cb.trackedErrors {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker[T]) recordFailure(ctx context.Context, state State) {
	now := cb.clock.Now()
	if err := cb.failures.Increment(ctx); err != nil {
		cb.logger.Warn("incrementing error counter failed",
			zap.String("breaker", cb.name), zap.Error(err))
		return
	}
	if err := cb.failures.RecordErrorAt(ctx, now); err != nil {
		cb.logger.Warn("recording failure timestamp failed",
			zap.String("breaker", cb.name), zap.Error(err))
	}
	count, err := cb.failures.Value(ctx)
	if err != nil {
		cb.logger.Warn("reading error counter failed",
			zap.String("breaker", cb.name), zap.Error(err))
		return
	}

	cb.logger.Info("tracked failure",
		zap.String("breaker", cb.name),
		zap.Stringer("state", state),
		zap.Int64("error_count", count),
		zap.Uint32("error_threshold", cb.errorThreshold),
		zap.Time("last_error_at", now))

	switch {
	case state == StateClosed && count >= int64(cb.errorThreshold):
		cb.transition(ctx, cb.toOpen, state)
	case state == StateHalfOpen:
		// Any failure while probing reopens the circuit, regardless of how
		// many successes have accumulated.
		cb.transition(ctx, cb.toOpen, state)
	}
}

func (cb *CircuitBreaker[T]) recordSuccess(ctx context.Context, state State) {
	if err := cb.failures.Reset(ctx); err != nil {
		cb.logger.Warn("resetting error counter failed",
			zap.String("breaker", cb.name), zap.Error(err))
	}
	if state != StateHalfOpen {
		return
	}

	if err := cb.successes.Increment(ctx); err != nil {
		cb.logger.Warn("incrementing success counter failed",
			zap.String("breaker", cb.name), zap.Error(err))
		return
	}
	count, err := cb.successes.Value(ctx)
	if err != nil {
		cb.logger.Warn("reading success counter failed",
			zap.String("breaker", cb.name), zap.Error(err))
		return
	}

	cb.logger.Info("success while probing",
		zap.String("breaker", cb.name),
		zap.Int64("success_count", count),
		zap.Uint32("success_threshold", cb.successThreshold))

	if count >= int64(cb.successThreshold) {
		cb.transition(ctx, cb.toClosed, state)
	}
}

// timeoutElapsed reports whether the error timeout has passed since the last
// recorded failure.
func (cb *CircuitBreaker[T]) timeoutElapsed(ctx context.Context) (bool, error) {
	last, err := cb.failures.LastErrorAt(ctx)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		// An open circuit without a recorded failure can only come from
		// external state manipulation; treat the cooldown as served rather
		// than staying open forever.
		return true, nil
	}
	return last.Add(cb.errorTimeout).Before(cb.clock.Now()), nil
}

// transition runs a transition on the recording path, where failures must not
// surface to the caller.
func (cb *CircuitBreaker[T]) transition(ctx context.Context, to func(context.Context, State) error, from State) {
	if err := to(ctx, from); err != nil {
		cb.logger.Warn("state transition failed",
			zap.String("breaker", cb.name),
			zap.Stringer("from", from),
			zap.Error(err))
	}
}

func (cb *CircuitBreaker[T]) toClosed(ctx context.Context, from State) error {
	if from == StateClosed {
		return nil
	}
	counts := cb.snapshot(ctx)
	if err := cb.failures.Reset(ctx); err != nil {
		return err
	}
	if err := cb.successes.Reset(ctx); err != nil {
		return err
	}
	if err := cb.state.TransitionToClosed(ctx); err != nil {
		return err
	}
	cb.changed(from, StateClosed, counts)
	return nil
}

func (cb *CircuitBreaker[T]) toOpen(ctx context.Context, from State) error {
	if from == StateOpen {
		return nil
	}
	// Opening leaves the error counter as-is; it is cleared on the later
	// transition to half-open.
	counts := cb.snapshot(ctx)
	if err := cb.state.TransitionToOpen(ctx); err != nil {
		return err
	}
	cb.changed(from, StateOpen, counts)
	return nil
}

func (cb *CircuitBreaker[T]) toHalfOpen(ctx context.Context, from State) error {
	if from == StateHalfOpen {
		return nil
	}
	counts := cb.snapshot(ctx)
	if err := cb.failures.Reset(ctx); err != nil {
		return err
	}
	if err := cb.successes.Reset(ctx); err != nil {
		return err
	}
	if err := cb.state.TransitionToHalfOpen(ctx); err != nil {
		return err
	}
	cb.changed(from, StateHalfOpen, counts)
	return nil
}

// snapshot reads the counters for a transition log line. Best effort: a
// counter that cannot be read reports zero.
func (cb *CircuitBreaker[T]) snapshot(ctx context.Context) Counts {
	counts, err := cb.Counts(ctx)
	if err != nil {
		cb.logger.Warn("reading counters for state change failed",
			zap.String("breaker", cb.name), zap.Error(err))
	}
	return counts
}

// changed emits the one log line per realized state change and invokes the
// OnStateChange hook.
func (cb *CircuitBreaker[T]) changed(from, to State, counts Counts) {
	cb.logger.Info("circuit breaker state changed",
		zap.String("breaker", cb.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int64("error_count", counts.Errors),
		zap.Int64("success_count", counts.Successes),
		zap.Time("last_error_at", counts.LastErrorAt),
		zap.Uint32("error_threshold", cb.errorThreshold),
		zap.Uint32("success_threshold", cb.successThreshold),
		zap.Duration("error_timeout", cb.errorTimeout))

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Reset unconditionally clears both counters and closes the circuit,
// regardless of the current state. Meant for manual recovery.
func (cb *CircuitBreaker[T]) Reset(ctx context.Context) error {
	if err := cb.failures.Reset(ctx); err != nil {
		return err
	}
	if err := cb.successes.Reset(ctx); err != nil {
		return err
	}
	from, err := cb.state.Value(ctx)
	if err != nil {
		return err
	}
	return cb.toClosed(ctx, from)
}

// Destroy releases the breaker's collaborators. It is terminal: no method of
// the breaker may be called afterward.
func (cb *CircuitBreaker[T]) Destroy(ctx context.Context) error {
	return multierr.Combine(
		cb.failures.Destroy(ctx),
		cb.successes.Destroy(ctx),
		cb.state.Destroy(ctx),
	)
}
