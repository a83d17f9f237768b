package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

func fastRetrier(maxAttempts int) *Retrier {
	return NewRetrier(Config{
		RetryMaxAttempts:    maxAttempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	})
}

func TestRetrierRecordsAttemptsUntilSuccess(t *testing.T) {
	for k := 0; k < 4; k++ {
		t.Run(fmt.Sprintf("failures_%d", k), func(t *testing.T) {
			calls := 0
			attempts, err := fastRetrier(5).Do(context.Background(), "op", func(context.Context) error {
				calls++
				if calls <= k {
					return domain.ErrTemporary
				}
				return nil
			}, nil)
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if attempts != k+1 || calls != k+1 {
				t.Fatalf("expected %d attempts, got attempts=%d calls=%d", k+1, attempts, calls)
			}
		})
	}
}

func TestRetrierStopsAtBudgetAndReturnsLastError(t *testing.T) {
	var last error
	calls := 0
	attempts, err := fastRetrier(3).Do(context.Background(), "op", func(context.Context) error {
		calls++
		last = fmt.Errorf("attempt %d: %w", calls, domain.ErrTemporary)
		return last
	}, nil)
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
	if err != last {
		t.Fatalf("expected last error unchanged, got %v", err)
	}
}

func TestRetrierDoesNotRetryNonRecoverable(t *testing.T) {
	calls := 0
	open := domain.NewPipelineError(domain.ErrCircuitOpen, "vision", "", nil)
	attempts, err := fastRetrier(5).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return open
	}, nil)
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected single attempt, got attempts=%d calls=%d", attempts, calls)
	}
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
}

func TestRetrierHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts, err := fastRetrier(3).Do(ctx, "op", func(context.Context) error {
		t.Fatalf("operation must not run on cancelled context")
		return nil
	}, nil)
	if attempts != 0 || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected no attempts and context.Canceled, got %d %v", attempts, err)
	}
}
