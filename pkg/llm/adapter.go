// Package llm provides the vendor adapters, the unified provider and the
// order-preserving batch scheduler used to talk to LLM backends.
package llm

import (
	"context"
	"math"
	"time"
)

const (
	defaultMaxRetries = 3
	baseBackoff       = 500 * time.Millisecond
)

// Adapter wraps one vendor's call primitive behind a uniform contract.
// Generate blocks until the vendor call completes.
type Adapter interface {
	// Generate sends a single prompt and returns the priced response.
	Generate(ctx context.Context, prompt string) (*Response, error)

	// Model returns the model identifier the adapter was built for.
	Model() string
}

// AsyncAdapter is implemented by adapters whose vendor exposes a native
// non-blocking call. Exactly one Result is sent on the returned channel.
type AsyncAdapter interface {
	GenerateAsync(ctx context.Context, prompt string) <-chan Result
}

// WaveSizer lets an adapter declare how many calls it tolerates in one wave.
type WaveSizer interface {
	WaveSize() int
}

// Result carries the outcome of an asynchronous call.
type Result struct {
	Response *Response
	Err      error
}

// GenerateAsync starts a call without blocking the caller. Adapters without a
// native async primitive are run on their own goroutine.
func GenerateAsync(ctx context.Context, a Adapter, prompt string) <-chan Result {
	if aa, ok := a.(AsyncAdapter); ok {
		return aa.GenerateAsync(ctx, prompt)
	}
	ch := make(chan Result, 1)
	go func() {
		resp, err := a.Generate(ctx, prompt)
		ch <- Result{Response: resp, Err: err}
	}()
	return ch
}

// retryableError wraps errors that should trigger a retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// isRetryable returns true if the error should trigger a retry.
func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}

// withRetries runs do up to maxRetries+1 times with exponential backoff,
// retrying only retryable errors.
func withRetries[T any](ctx context.Context, maxRetries int, do func() (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return zero, attempt, ctx.Err()
			case <-time.After(backoff):
			}
		}

		v, err := do()
		if err != nil {
			if !isRetryable(err) {
				return zero, attempt + 1, err
			}
			lastErr = err
			continue
		}
		return v, attempt + 1, nil
	}
	return zero, maxRetries + 1, lastErr
}
