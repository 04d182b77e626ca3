package retry

import (
	"context"
	"testing"
	"time"

	"github.com/quarrypool/quarry/pkg/errors"
)

func fastConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeNetwork, "rpc", "connection refused")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	permanent := errors.New(errors.ErrorTypeValidation, "parse", "bad hex")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return permanent
	})

	if err != permanent {
		t.Errorf("expected the permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New(errors.ErrorTypeNetwork, "rpc", "connection refused")
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !errors.IsType(err, errors.ErrorTypeInternal) {
		t.Errorf("expected internal wrapper error, got %v", err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, &Config{
		MaxAttempts: 5,
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
		Multiplier:  1.0,
	}, func() error {
		calls++
		cancel()
		return errors.New(errors.ErrorTypeNetwork, "rpc", "connection refused")
	})

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New(errors.ErrorTypeTimeout, "rpc", "timed out")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDoWithResultNonRetryable(t *testing.T) {
	permanent := errors.New(errors.ErrorTypePayout, "broadcast", "insufficient funds")
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		return "partial", permanent
	})

	if err != permanent {
		t.Errorf("expected the permanent error back, got %v", err)
	}
	if got != "" {
		t.Errorf("expected zero value on error, got %q", got)
	}
}

func TestCalculateDelayBackoff(t *testing.T) {
	cfg := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     false,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, time.Second}, // capped at MaxDelay
	}

	for _, tt := range tests {
		if got := cfg.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
