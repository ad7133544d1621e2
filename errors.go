package breaker

import (
	"errors"
	"fmt"
)

// ErrOpenCircuit is the match target for rejections: every OpenCircuitError
// satisfies errors.Is(err, ErrOpenCircuit).
var ErrOpenCircuit = errors.New("circuit breaker is open")

// OpenCircuitError is returned by Acquire when the circuit is open and the
// call is rejected without running the operation. It never originates from
// the guarded operation itself.
type OpenCircuitError struct {
	// Name identifies the breaker that rejected the call.
	Name string
}

func (e *OpenCircuitError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *OpenCircuitError) Is(target error) bool {
	return target == ErrOpenCircuit
}

// IsOpenCircuit reports whether err is a rejection by an open circuit.
func IsOpenCircuit(err error) bool {
	return errors.Is(err, ErrOpenCircuit)
}
