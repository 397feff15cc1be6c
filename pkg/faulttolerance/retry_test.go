package faulttolerance

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryer(attempts int, retryable ...error) *Retryer {
	return NewRetryer(RetryConfig{
		MaxAttempts:     attempts,
		BaseDelay:       time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
		Name:            "test",
		RetryableErrors: retryable,
	}, NewLogger("error"))
}

func TestRetryerStopsAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := fastRetryer(3).Execute(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected error wrapping boom, got %v", err)
	}
}

func TestRetryerSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := fastRetryer(5).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryerNonRetryable(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")
	calls := 0

	err := fastRetryer(5, transient).Execute(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if !errors.Is(err, fatal) {
		t.Errorf("Expected fatal, got %v", err)
	}
}

func TestRetryerHonoursContext(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, Name: "test"}, NewLogger("error"))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("unreachable broker")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}
