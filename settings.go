package breaker

import (
	"time"

	"go.uber.org/zap"
)

const defaultErrorThreshold = 5
const defaultSuccessThreshold = 2
const defaultErrorTimeout = time.Duration(60) * time.Second

// Settings configures CircuitBreaker:
//
// Name is the name of the CircuitBreaker.
//
// TrackedErrors is the set of error kinds, matched with errors.Is, that count
// toward the error threshold. Errors outside the set always propagate to the
// caller without affecting the breaker.
// If TrackedErrors is empty, every non-nil error is tracked.
//
// ErrorThreshold is the number of tracked failures in the closed state that
// trips the circuit open.
// If ErrorThreshold is 0, the CircuitBreaker uses 5.
//
// SuccessThreshold is the number of successes in the half-open state required
// before the circuit closes again.
// If SuccessThreshold is 0, the CircuitBreaker uses 2.
//
// ErrorTimeout is the cooldown after the last tracked failure, after which an
// open circuit admits a probe and becomes half-open.
// If ErrorTimeout is less than or equal to 0, the CircuitBreaker uses 60 seconds.
//
// DryRun makes the breaker observe only: calls that would have been rejected
// are logged and executed anyway, and their outcome is not recorded.
//
// Logger receives the breaker's informational records (tracked failures,
// half-open successes, realized state changes, dry-run observations).
// If Logger is nil, logging is discarded.
//
// Clock supplies the wall-clock reads used for timeout evaluation.
// If Clock is nil, SystemClock is used.
//
// OnStateChange is called whenever the state of the CircuitBreaker changes.
type Settings struct {
	Name             string
	TrackedErrors    []error
	ErrorThreshold   uint32
	SuccessThreshold uint32
	ErrorTimeout     time.Duration
	DryRun           bool
	Logger           *zap.Logger
	Clock            Clock
	OnStateChange    func(name string, from State, to State)
}

func (st Settings) withDefaults() Settings {
	if st.ErrorThreshold == 0 {
		st.ErrorThreshold = defaultErrorThreshold
	}
	if st.SuccessThreshold == 0 {
		st.SuccessThreshold = defaultSuccessThreshold
	}
	if st.ErrorTimeout <= 0 {
		st.ErrorTimeout = defaultErrorTimeout
	}
	if st.Logger == nil {
		st.Logger = zap.NewNop()
	}
	if st.Clock == nil {
		st.Clock = systemClock{}
	}
	return st
}
