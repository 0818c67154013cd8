package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		InitialWait: time.Millisecond,
		MaxWait:     2 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(5), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, Retryable(errors.New("flaky"))
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("Do() = %d after %d calls, want 42 after 3", got, calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	_, err := Do(context.Background(), fastConfig(5), func(ctx context.Context) (string, error) {
		calls++
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do() error = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	cause := errors.New("unavailable")
	calls := 0
	_, err := Do(context.Background(), fastConfig(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, Retryable(cause)
	})
	if !errors.Is(err, cause) {
		t.Fatalf("Do() error = %v, want %v", err, cause)
	}
	if IsRetryable(err) {
		t.Error("returned error should not stay marked retryable")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, Config{InitialWait: time.Hour, MaxWait: time.Hour, Multiplier: 1}, func(ctx context.Context) (int, error) {
		return 0, Retryable(errors.New("down"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := Config{InitialWait: time.Second, MaxWait: 3 * time.Second, Multiplier: 10}
	if got := cfg.Backoff(1); got != time.Second {
		t.Errorf("Backoff(1) = %v, want 1s", got)
	}
	if got := cfg.Backoff(4); got != 3*time.Second {
		t.Errorf("Backoff(4) = %v, want 3s", got)
	}
}
