package rotation

import (
	"context"
	"errors"
	"testing"
	"time"
)

// noSleep replaces the backoff with an instant return so tests stay fast.
func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestExecute_SucceedsFirstTry(t *testing.T) {
	t.Parallel()
	e := New([]string{"k1", "k2"}, withSleep(noSleep))

	calls := 0
	err := e.Execute(context.Background(), func(_ context.Context, key string) error {
		calls++
		if key != "k1" {
			t.Errorf("first attempt key = %q, want k1", key)
		}
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestExecute_RotatesKeysAcrossRetries(t *testing.T) {
	t.Parallel()
	e := New([]string{"k1", "k2", "k3"}, WithMaxAttempts(3), withSleep(noSleep))

	var keys []string
	err := e.Execute(context.Background(), func(_ context.Context, key string) error {
		keys = append(keys, key)
		return errors.New("transient")
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	want := []string{"k1", "k2", "k3"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("attempt %d used key %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestExecute_PermanentStopsRetrying(t *testing.T) {
	t.Parallel()
	e := New([]string{"k1"}, WithMaxAttempts(5), withSleep(noSleep))

	quota := errors.New("quota exceeded")
	calls := 0
	err := e.Execute(context.Background(), func(_ context.Context, _ string) error {
		calls++
		return Permanent(quota)
	})
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
	if !errors.Is(err, quota) {
		t.Errorf("err = %v, want wrapped quota error", err)
	}
	if !IsPermanent(err) {
		t.Error("returned error should keep the permanent marker")
	}
}

func TestExecute_ContextCancellationStops(t *testing.T) {
	t.Parallel()
	e := New([]string{"k1"}, WithMaxAttempts(5))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.Execute(ctx, func(_ context.Context, _ string) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) && calls != 1 {
		t.Errorf("err=%v calls=%d, want early stop on cancellation", err, calls)
	}
}

func TestExecute_BackoffDoubles(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	e := New([]string{"k1"},
		WithMaxAttempts(4),
		WithBaseBackoff(100*time.Millisecond),
		withSleep(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)

	e.Execute(context.Background(), func(_ context.Context, _ string) error {
		return errors.New("transient")
	})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i, delays[i], want[i])
		}
	}
}

func TestExecuteWithResult_ReturnsValue(t *testing.T) {
	t.Parallel()
	e := New(nil, withSleep(noSleep))

	got, err := ExecuteWithResult(context.Background(), e, func(_ context.Context, key string) (string, error) {
		if key != "" {
			t.Errorf("keyless executor should pass empty key, got %q", key)
		}
		return "narrative", nil
	})
	if err != nil || got != "narrative" {
		t.Errorf("got=%q err=%v", got, err)
	}
}

func TestExecuteWithResult_ZeroOnFailure(t *testing.T) {
	t.Parallel()
	e := New(nil, WithMaxAttempts(2), withSleep(noSleep))

	got, err := ExecuteWithResult(context.Background(), e, func(_ context.Context, _ string) (int, error) {
		return 99, errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got != 0 {
		t.Errorf("failed result should be the zero value, got %d", got)
	}
}
