package errors

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetry_TransientFailureRecovers(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("dial tcp: connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		return CorruptOutput("out.mp4", 12)
	})
	if err == nil {
		t.Fatal("expected the error to surface")
	}
	if attempts != 1 {
		t.Errorf("non-retryable errors must not be retried, got %d attempts", attempts)
	}
}

func TestRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("attempt %d: connection reset", attempts)
	})
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if attempts != 4 {
		t.Errorf("expected initial try plus 3 retries, got %d attempts", attempts)
	}
	if got := err.Error(); got != "attempt 4: connection reset" {
		t.Errorf("expected the last error, got %q", got)
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetryConfig(), func(ctx context.Context) error {
		t.Fatal("function must not run with a dead context")
		return nil
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryWithResult_TransientFailureRecovers(t *testing.T) {
	attempts := 0
	exists, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (bool, error) {
		attempts++
		if attempts < 2 {
			return false, StorageError("stat timeout")
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if !exists {
		t.Error("expected the recovered result")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryWithResult_NonRetryableReturnsZeroValue(t *testing.T) {
	got, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		return "partial", fmt.Errorf("no such table")
	})
	if err == nil {
		t.Fatal("expected the error to surface")
	}
	if got != "" {
		t.Errorf("failed calls must return the zero value, got %q", got)
	}
}

func TestDatabaseRetryConfig_Bounds(t *testing.T) {
	cfg := DatabaseRetryConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("unexpected retry count %d", cfg.MaxRetries)
	}
	if cfg.InitialBackoff >= cfg.MaxBackoff {
		t.Error("initial backoff should start below the cap")
	}
}
