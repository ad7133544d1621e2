package breaker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/tripswitch/breaker"
	"github.com/tripswitch/breaker/storage/memory"
)

func TestBreakerFeature(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "breaker",
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Tags:     "~@wip",
			Strict:   true,
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fail()
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	fc := new(featureContext)

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*fc = featureContext{}
		return ctx, nil
	})

	// Given steps
	sc.Step(`^a breaker with error threshold (\d+), success threshold (\d+) and error timeout (\d+)s$`, fc.aBreaker)
	sc.Step(`^the breaker runs in dry-run mode$`, fc.dryRunMode)

	// When steps
	sc.Step(`^the guarded call fails (\d+) times?$`, fc.callFails)
	sc.Step(`^the guarded call succeeds$`, fc.callSucceeds)
	sc.Step(`^(\d+) seconds pass$`, fc.secondsPass)
	sc.Step(`^the breaker is reset$`, fc.breakerReset)

	// Then steps
	sc.Step(`^the breaker is (closed|open|half-open)$`, fc.breakerIs)
	sc.Step(`^the next call is rejected without running the operation$`, fc.nextCallRejected)
	sc.Step(`^the next call still runs the operation$`, fc.nextCallRuns)
	sc.Step(`^the error count is (\d+)$`, fc.errorCountIs)
}

type featureContext struct {
	clock    *fakeClock
	settings breaker.Settings
	cb       *breaker.CircuitBreaker[string]
}

func (fc *featureContext) build() error {
	cb, err := breaker.NewCircuitBreaker[string](context.Background(), memory.NewFactory(), fc.settings)
	fc.cb = cb
	return err
}

func (fc *featureContext) aBreaker(errThreshold, succThreshold, timeoutSecs int) error {
	fc.clock = newFakeClock()
	fc.settings = breaker.Settings{
		Name:             "feature",
		ErrorThreshold:   uint32(errThreshold),
		SuccessThreshold: uint32(succThreshold),
		ErrorTimeout:     time.Duration(timeoutSecs) * time.Second,
		Clock:            fc.clock,
	}
	return fc.build()
}

func (fc *featureContext) dryRunMode() error {
	fc.settings.DryRun = true
	return fc.build()
}

func (fc *featureContext) callFails(n int) error {
	for i := 0; i < n; i++ {
		_, err := fc.cb.Acquire(context.Background(), func() (string, error) {
			return "", errTimeout
		})
		if !errors.Is(err, errTimeout) {
			return fmt.Errorf("expected the operation's error back, got %v", err)
		}
	}
	return nil
}

func (fc *featureContext) callSucceeds() error {
	result, err := fc.cb.Acquire(context.Background(), func() (string, error) {
		return "ok", nil
	})
	if err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("unexpected result %q", result)
	}
	return nil
}

func (fc *featureContext) secondsPass(n int) error {
	fc.clock.Advance(time.Duration(n) * time.Second)
	return nil
}

func (fc *featureContext) breakerReset() error {
	return fc.cb.Reset(context.Background())
}

func (fc *featureContext) breakerIs(want string) error {
	state, err := fc.cb.State(context.Background())
	if err != nil {
		return err
	}
	if state.String() != want {
		return fmt.Errorf("breaker is %s, want %s", state, want)
	}
	return nil
}

func (fc *featureContext) nextCallRejected() error {
	invoked := false
	_, err := fc.cb.Acquire(context.Background(), func() (string, error) {
		invoked = true
		return "ok", nil
	})
	if !breaker.IsOpenCircuit(err) {
		return fmt.Errorf("expected an open-circuit rejection, got %v", err)
	}
	if invoked {
		return errors.New("operation ran despite the rejection")
	}
	return nil
}

func (fc *featureContext) nextCallRuns() error {
	invoked := false
	if _, err := fc.cb.Acquire(context.Background(), func() (string, error) {
		invoked = true
		return "ok", nil
	}); err != nil {
		return err
	}
	if !invoked {
		return errors.New("operation did not run")
	}
	return nil
}

func (fc *featureContext) errorCountIs(n int) error {
	counts, err := fc.cb.Counts(context.Background())
	if err != nil {
		return err
	}
	if counts.Errors != int64(n) {
		return fmt.Errorf("error count is %d, want %d", counts.Errors, n)
	}
	return nil
}
