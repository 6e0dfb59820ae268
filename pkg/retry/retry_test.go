package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTestError    = errors.New("test error")
	errNonRetryable = errors.New("non-retryable error")
)

func testConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errTestError
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), testConfig(), func() error {
		attempts++
		return errTestError
	})

	if !errors.Is(err, errTestError) {
		t.Errorf("Expected wrapped test error, got: %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts (1 + 3 retries), got: %d", attempts)
	}
}

func TestRetry_NonRetryableReturnedAsIs(t *testing.T) {
	cfg := testConfig()
	cfg.Retryable = func(err error) bool { return !errors.Is(err, errNonRetryable) }

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errNonRetryable
	})

	if err != errNonRetryable {
		t.Errorf("Expected the bare non-retryable error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errTestError
	})

	if err != errTestError {
		t.Errorf("Expected raw error when disabled, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Retry(ctx, cfg, func() error { return errTestError })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got: %v", err)
	}
}

func TestDo_ReturnsResult(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), testConfig(), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errTestError
		}
		return "ok", nil
	})

	if err != nil || got != "ok" {
		t.Errorf("Expected ok, got %q / %v", got, err)
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := testConfig()
	if d := calculateDelay(cfg, 0); d != 5*time.Millisecond {
		t.Errorf("attempt 0: %v", d)
	}
	if d := calculateDelay(cfg, 1); d != 10*time.Millisecond {
		t.Errorf("attempt 1: %v", d)
	}
	if d := calculateDelay(cfg, 5); d != 20*time.Millisecond {
		t.Errorf("attempt 5 should be capped: %v", d)
	}

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := calculateDelay(cfg, 1)
		if d < 7500*time.Microsecond || d > 12500*time.Microsecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}
