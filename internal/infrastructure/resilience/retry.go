package resilience

import (
	"context"
	"log/slog"
	"time"
)

// Retrier re-runs an operation with capped exponential backoff. Only errors
// the classifier marks retryable are retried; the last error is returned
// unchanged.
type Retrier struct {
	cfg Config
}

func NewRetrier(cfg Config) *Retrier {
	return &Retrier{cfg: cfg.normalize()}
}

// Do returns the number of attempts made together with the final error.
func (r *Retrier) Do(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) (int, error) {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	maxAttempts := r.cfg.RetryMaxAttempts
	backoff := r.cfg.RetryInitialBackoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		class := classifier(err)
		if !class.Retryable || attempt == maxAttempts {
			return attempt, err
		}

		wait := backoff
		if wait > r.cfg.RetryMaxBackoff {
			wait = r.cfg.RetryMaxBackoff
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, err
			case <-timer.C:
			}
		}

		backoff = time.Duration(float64(backoff) * r.cfg.RetryMultiplier)
		if backoff > r.cfg.RetryMaxBackoff {
			backoff = r.cfg.RetryMaxBackoff
		}
	}

	return maxAttempts, lastErr
}
