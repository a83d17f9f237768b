package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

// WithTimeout runs fn under a hard deadline. A callee that ignores its
// context is abandoned once the deadline passes and the call reports
// PROCESSING_TIMEOUT.
func WithTimeout(ctx context.Context, operation string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && attemptCtx.Err() != nil {
			return timeoutError(operation, timeout, err)
		}
		return err
	case <-attemptCtx.Done():
		if parentErr := ctx.Err(); parentErr != nil {
			return parentErr
		}
		return timeoutError(operation, timeout, nil)
	}
}

func timeoutError(operation string, timeout time.Duration, cause error) error {
	return &domain.PipelineError{
		Kind:    domain.ErrProcessingTimeout,
		Op:      operation,
		Message: "exceeded " + timeout.String(),
		Context: map[string]string{"service": operation},
		Err:     cause,
	}
}
