package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         20 * time.Millisecond,
		ResetTimeout:    time.Minute,
	}
}

func failing() error    { return errors.New("node unreachable") }
func succeeding() error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); err == nil {
			t.Fatal("expected failure")
		}
	}

	if cb.GetState() != StateOpen {
		t.Errorf("expected open state after 3 failures, got %s", cb.GetState())
	}

	err := cb.Execute(ctx, succeeding)
	if err == nil {
		t.Error("expected rejection while open")
	}
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state below threshold, got %s", cb.GetState())
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failing)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.GetState())
	}

	time.Sleep(25 * time.Millisecond)

	// First success moves to half-open, second closes
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("expected probe request to pass: %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("expected half-open after one probe success, got %s", cb.GetState())
	}

	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("expected second probe to pass: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed after required successes, got %s", cb.GetState())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failing)
	}

	time.Sleep(25 * time.Millisecond)

	cb.Execute(ctx, failing)

	if cb.GetState() != StateOpen {
		t.Errorf("expected reopen on half-open failure, got %s", cb.GetState())
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	got, err := ExecuteWithResult(ctx, cb, func() (float64, error) {
		return 123456.78, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 123456.78 {
		t.Errorf("expected 123456.78, got %v", got)
	}

	for i := 0; i < 3; i++ {
		ExecuteWithResult(ctx, cb, func() (float64, error) {
			return 0, errors.New("node unreachable")
		})
	}

	_, err = ExecuteWithResult(ctx, cb, func() (float64, error) {
		t.Fatal("function must not run while circuit is open")
		return 0, nil
	})
	if err == nil {
		t.Error("expected rejection while open")
	}
}

func TestReset(t *testing.T) {
	cb := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failing)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.GetState())
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.GetState())
	}
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Errorf("expected request to pass after reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
