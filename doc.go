// Package breaker implements the Circuit Breaker pattern over pluggable
// storage.
//
// A CircuitBreaker guards calls to an unreliable resource. It counts tracked
// failures and, once a threshold is crossed, rejects calls for a cooldown
// period instead of piling load onto a struggling dependency. After the
// cooldown it admits probes (half-open); enough successes close the circuit,
// any failure reopens it.
//
//	factory := memory.NewFactory()
//	cb, err := breaker.NewCircuitBreaker[[]byte](ctx, factory, breaker.Settings{
//	    Name:           "billing-api",
//	    TrackedErrors:  []error{errTimeout},
//	    ErrorThreshold: 3,
//	    ErrorTimeout:   10 * time.Second,
//	})
//
//	body, err := cb.Acquire(ctx, func() ([]byte, error) {
//	    return client.Fetch()
//	})
//	if breaker.IsOpenCircuit(err) {
//	    // rejected without calling Fetch
//	}
//
// All counting and state keeping is delegated to the ErrorCounter,
// SuccessCounter and StateCell collaborators produced by a StorageFactory.
// The storage/memory package backs them with in-process atomics; the
// storage/redis package backs them with Redis, so that breakers in different
// processes share one circuit.
//
// A breaker constructed with Settings.DryRun observes instead of enforcing:
// calls that would have been rejected are logged and executed anyway. Note
// the deliberate asymmetry: outcomes of calls executed while the circuit is
// open are not recorded, so a dry-run breaker never measures what prolonged
// rejection would have done to the counters.
package breaker
