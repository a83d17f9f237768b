package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

func failingClassifier(error) ErrorClassification {
	return ErrorClassification{Retryable: false, RecordFailure: true}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterConsecutiveFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 3,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	for i := 0; i < 3; i++ {
		if state := exec.BreakerState("vision").State; state != domain.BreakerClosed {
			t.Fatalf("breaker should stay closed before threshold, got %s at iteration %d", state, i)
		}
		err := exec.Execute(context.Background(), "vision", func(context.Context) error {
			return errTemp
		}, failingClassifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "vision", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, failingClassifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if domain.CodeOf(err) != domain.CodeCircuitBreakerOpen {
		t.Fatalf("expected CIRCUIT_BREAKER_OPEN, got %s", domain.CodeOf(err))
	}
	if domain.IsRecoverable(err) {
		t.Fatalf("circuit open error must not be recoverable")
	}

	snapshot := exec.BreakerState("vision")
	if snapshot.State != domain.BreakerOpen {
		t.Fatalf("expected OPEN snapshot, got %s", snapshot.State)
	}
	if snapshot.ConsecutiveFailures != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", snapshot.ConsecutiveFailures)
	}
	if snapshot.LastFailureAt == nil {
		t.Fatalf("expected last failure time to be recorded")
	}
	if exec.Available("vision") {
		t.Fatalf("open service must not be reported available")
	}
}

func TestExecuteRecoversThroughHalfOpen(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 2,
		BreakerOpenTimeout:      30 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "store", func(context.Context) error { return errTemp }, failingClassifier)
	}
	if exec.BreakerState("store").State != domain.BreakerOpen {
		t.Fatalf("expected breaker to be open")
	}

	time.Sleep(50 * time.Millisecond)
	if state := exec.BreakerState("store").State; state != domain.BreakerHalfOpen {
		t.Fatalf("expected HALF_OPEN after recovery window, got %s", state)
	}

	called := false
	err := exec.Execute(context.Background(), "store", func(context.Context) error {
		called = true
		return nil
	}, failingClassifier)
	if err != nil || !called {
		t.Fatalf("expected probe call to run and succeed, called=%v err=%v", called, err)
	}

	snapshot := exec.BreakerState("store")
	if snapshot.State != domain.BreakerClosed {
		t.Fatalf("expected CLOSED after successful probe, got %s", snapshot.State)
	}
	if snapshot.ConsecutiveFailures != 0 {
		t.Fatalf("expected failure count reset, got %d", snapshot.ConsecutiveFailures)
	}
}

func TestExecuteReopensWhenProbeFails(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 1,
		BreakerOpenTimeout:      20 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	_ = exec.Execute(context.Background(), "store", func(context.Context) error { return errTemp }, failingClassifier)
	time.Sleep(40 * time.Millisecond)

	err := exec.Execute(context.Background(), "store", func(context.Context) error { return errTemp }, failingClassifier)
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected probe failure to surface, got %v", err)
	}
	if state := exec.BreakerState("store").State; state != domain.BreakerOpen {
		t.Fatalf("expected OPEN after failed probe, got %s", state)
	}
}

func TestExecuteTimesOutUncooperativeCall(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts: 1,
		AttemptTimeout:   20 * time.Millisecond,
		BreakerEnabled:   false,
	})

	started := time.Now()
	err := exec.Execute(context.Background(), "vision", func(context.Context) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}, nil)
	if domain.CodeOf(err) != domain.CodeProcessingTimeout {
		t.Fatalf("expected PROCESSING_TIMEOUT, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 200*time.Millisecond {
		t.Fatalf("timeout did not abandon the call, took %s", elapsed)
	}
}

func TestExecuteTimeoutCountsAsBreakerFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		AttemptTimeout:          10 * time.Millisecond,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 1,
		BreakerOpenTimeout:      time.Minute,
	})

	_ = exec.Execute(context.Background(), "vision", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	if state := exec.BreakerState("vision").State; state != domain.BreakerOpen {
		t.Fatalf("expected timeout to trip the breaker, got %s", state)
	}
}

func TestBreakerStatesListsKnownServices(t *testing.T) {
	exec := NewExecutor(DefaultConfig())
	_ = exec.Execute(context.Background(), "b", func(context.Context) error { return nil }, nil)
	_ = exec.Execute(context.Background(), "a", func(context.Context) error { return nil }, nil)

	states := exec.BreakerStates()
	if len(states) != 2 || states[0].Service != "a" || states[1].Service != "b" {
		t.Fatalf("unexpected breaker states: %+v", states)
	}
	if unknown := exec.BreakerState("missing"); unknown.State != domain.BreakerClosed {
		t.Fatalf("unknown service should report CLOSED, got %s", unknown.State)
	}
}
