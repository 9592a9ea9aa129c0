// Package rotation provides the retrying, key-rotating executor wrapped
// around every provider call. Transient failures are retried with
// exponential backoff, advancing through the configured API keys so a
// rate-limited or revoked key does not take the tier down.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("rotation: all attempts failed")

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so [Executor.Execute] stops retrying immediately.
// Quota and validation failures are permanent; timeouts and 5xx are not.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the [Permanent] marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Executor retries a provider call up to a configured number of attempts,
// rotating API keys between attempts. Safe for concurrent use; the key
// cursor is shared so all callers benefit from a rotation away from a bad
// key.
type Executor struct {
	keys        []string
	maxAttempts int
	baseBackoff time.Duration
	sleep       func(context.Context, time.Duration) error

	mu     sync.Mutex
	cursor int
}

// Option configures an [Executor].
type Option func(*Executor)

// WithMaxAttempts caps attempts per call. Defaults to 3.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the initial retry delay, doubled per attempt.
// Defaults to 500ms.
func WithBaseBackoff(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.baseBackoff = d
		}
	}
}

// withSleep overrides the backoff sleeper, for tests.
func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// New creates an Executor over keys. An empty keys slice is valid: fn is
// then invoked with the empty string (providers configured out-of-band).
func New(keys []string, opts ...Option) *Executor {
	e := &Executor{
		keys:        keys,
		maxAttempts: 3,
		baseBackoff: 500 * time.Millisecond,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute invokes fn with the current API key, retrying with backoff and
// key rotation on transient failure. It stops early on a [Permanent] error
// or context cancellation.
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context, apiKey string) error) error {
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.baseBackoff << (attempt - 1)
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx, e.currentKey())
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}

		slog.Warn("rotation: attempt failed, rotating key",
			"attempt", attempt+1,
			"max_attempts", e.maxAttempts,
			"err", err,
		)
		e.rotate()
	}
	return fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// ExecuteWithResult is the result-carrying variant of [Executor.Execute].
// This is a package-level function because Go does not support method-level
// type parameters.
func ExecuteWithResult[R any](ctx context.Context, e *Executor, fn func(ctx context.Context, apiKey string) (R, error)) (R, error) {
	var result R
	err := e.Execute(ctx, func(ctx context.Context, apiKey string) error {
		var innerErr error
		result, innerErr = fn(ctx, apiKey)
		return innerErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}

func (e *Executor) currentKey() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.keys) == 0 {
		return ""
	}
	return e.keys[e.cursor%len(e.keys)]
}

func (e *Executor) rotate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.keys) > 1 {
		e.cursor = (e.cursor + 1) % len(e.keys)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
