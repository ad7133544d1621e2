package breaker

import (
	"context"
	"time"
)

// The breaker delegates all counting, timestamping and state keeping to three
// collaborators so that the same state machine can run over in-process
// atomics or over shared storage visible to many processes. Each method of a
// collaborator must be individually atomic; the breaker composes them without
// any locking of its own, so sequences of calls are not transactional.

// ErrorCounter accumulates tracked failures and remembers when the most
// recent one happened.
type ErrorCounter interface {
	Increment(ctx context.Context) error
	Reset(ctx context.Context) error
	Value(ctx context.Context) (int64, error)

	// LastErrorAt returns the timestamp recorded by RecordErrorAt, or the
	// zero time if no failure has been recorded since the last Reset.
	LastErrorAt(ctx context.Context) (time.Time, error)
	RecordErrorAt(ctx context.Context, t time.Time) error

	// Destroy releases whatever backs the counter. The counter must not be
	// used afterward.
	Destroy(ctx context.Context) error
}

// SuccessCounter accumulates successes observed while the breaker probes
// recovery in the half-open state.
type SuccessCounter interface {
	Increment(ctx context.Context) error
	Reset(ctx context.Context) error
	Value(ctx context.Context) (int64, error)
	Destroy(ctx context.Context) error
}

// StateCell holds the current circuit state. A cell that has never been
// written reads as StateClosed.
type StateCell interface {
	Value(ctx context.Context) (State, error)
	TransitionToClosed(ctx context.Context) error
	TransitionToOpen(ctx context.Context) error
	TransitionToHalfOpen(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// StorageFactory builds the three collaborators a breaker owns for its
// lifetime. The name is the breaker name; factories backed by shared storage
// use it to key the underlying resources, so two breakers constructed with
// the same name and factory observe the same circuit.
type StorageFactory interface {
	ErrorCounter(ctx context.Context, name string) (ErrorCounter, error)
	SuccessCounter(ctx context.Context, name string) (SuccessCounter, error)
	StateCell(ctx context.Context, name string) (StateCell, error)
}
