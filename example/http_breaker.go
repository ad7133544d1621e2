package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tripswitch/breaker"
	"github.com/tripswitch/breaker/storage/memory"
)

var errServerDown = errors.New("server unavailable")

var cb *breaker.CircuitBreaker[[]byte]

func init() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}

	cb, err = breaker.NewCircuitBreaker[[]byte](context.Background(), memory.NewFactory(), breaker.Settings{
		Name:           "HTTP GET",
		TrackedErrors:  []error{errServerDown},
		ErrorThreshold: 3,
		ErrorTimeout:   30 * time.Second,
		Logger:         logger,
	})
	if err != nil {
		log.Fatal(err)
	}
}

// Get wraps http.Get in the CircuitBreaker. Transport failures and 5xx
// responses count toward the error threshold; everything else passes through
// untouched.
func Get(ctx context.Context, url string) ([]byte, error) {
	return cb.Acquire(ctx, func() ([]byte, error) {
		resp, err := http.Get(url)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errServerDown, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status %d", errServerDown, resp.StatusCode)
		}

		return io.ReadAll(resp.Body)
	})
}

func main() {
	body, err := Get(context.Background(), "http://www.google.com/robots.txt")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(string(body))
}
