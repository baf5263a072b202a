package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffStrategy_Success(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(3, 10*time.Millisecond, 100*time.Millisecond)

	err := strategy.Execute(context.Background(), func() error {
		return nil // Success on first try
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestExponentialBackoffStrategy_SuccessAfterRetries(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(5, 10*time.Millisecond, 100*time.Millisecond)

	attempts := 0
	err := strategy.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer") // Recoverable error
		}
		return nil // Success on 3rd attempt
	})

	if err != nil {
		t.Errorf("Expected no error after retries, got: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestExponentialBackoffStrategy_NonRecoverableError(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(5, 10*time.Millisecond, 100*time.Millisecond)

	attempts := 0
	err := strategy.Execute(context.Background(), func() error {
		attempts++
		return errors.New("execution reverted: agreement already active")
	})

	if err == nil {
		t.Error("Expected error for non-recoverable failure")
	}

	if attempts != 1 {
		t.Errorf("Expected only 1 attempt for non-recoverable error, got: %d", attempts)
	}
}

func TestExponentialBackoffStrategy_ExhaustsRetries(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(2, 5*time.Millisecond, 20*time.Millisecond)

	attempts := 0
	err := strategy.Execute(context.Background(), func() error {
		attempts++
		return errors.New("i/o timeout")
	})

	if err == nil {
		t.Error("Expected error after exhausting retries")
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts (1 + 2 retries), got: %d", attempts)
	}
}

func TestExponentialBackoffStrategy_ContextCancellation(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(10, 50*time.Millisecond, 500*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := strategy.Execute(ctx, func() error {
		attempts++
		return errors.New("connection refused")
	})

	if err == nil {
		t.Error("Expected error after context cancellation")
	}

	if attempts > 2 {
		t.Errorf("Expected at most 2 attempts before cancellation, got: %d", attempts)
	}
}

func TestNoRetryStrategy_ExecutesOnce(t *testing.T) {
	strategy := NewNoRetryStrategy()

	attempts := 0
	err := strategy.Execute(context.Background(), func() error {
		attempts++
		return errors.New("too many requests")
	})

	if err == nil {
		t.Error("Expected error to pass through")
	}

	if attempts != 1 {
		t.Errorf("Expected exactly 1 attempt, got: %d", attempts)
	}
}

func TestIsRecoverableError_RPCPatterns(t *testing.T) {
	recoverable := []string{
		"Post \"https://rpc.example\": dial tcp: i/o timeout",
		"429 Too Many Requests",
		"502 Bad Gateway",
	}
	for _, msg := range recoverable {
		if !isRecoverableError(errors.New(msg)) {
			t.Errorf("Expected %q to be recoverable", msg)
		}
	}

	nonRecoverable := []string{
		"execution reverted",
		"invalid argument 0: json: cannot unmarshal",
		"nonce too low",
	}
	for _, msg := range nonRecoverable {
		if isRecoverableError(errors.New(msg)) {
			t.Errorf("Expected %q to be non-recoverable", msg)
		}
	}
}
