package resilience

import (
	"cmp"
	"time"
)

// Config is shared by every dependency guarded by one Executor; each
// operation name still gets its own breaker.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	// AttemptTimeout also bounds callees that ignore ctx.
	AttemptTimeout time.Duration

	BreakerEnabled          bool
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultConfig suits a remote vision model: three tries with doubling
// backoff, then five straight failures open the breaker for a minute.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     200 * time.Millisecond,
		RetryMaxBackoff:         2 * time.Second,
		RetryMultiplier:         2,
		AttemptTimeout:          30 * time.Second,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func positive[T cmp.Ordered](v, fallback T) T {
	var zero T
	if v <= zero {
		return fallback
	}
	return v
}

// normalize fills unset or invalid fields from DefaultConfig. BreakerEnabled
// is taken as given.
func (c Config) normalize() Config {
	d := DefaultConfig()
	c.RetryMaxAttempts = positive(c.RetryMaxAttempts, d.RetryMaxAttempts)
	c.RetryInitialBackoff = positive(c.RetryInitialBackoff, d.RetryInitialBackoff)
	c.RetryMaxBackoff = max(positive(c.RetryMaxBackoff, d.RetryMaxBackoff), c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = d.RetryMultiplier
	}
	c.AttemptTimeout = positive(c.AttemptTimeout, d.AttemptTimeout)
	c.BreakerFailureThreshold = positive(c.BreakerFailureThreshold, d.BreakerFailureThreshold)
	c.BreakerOpenTimeout = positive(c.BreakerOpenTimeout, d.BreakerOpenTimeout)
	c.BreakerHalfOpenMaxCalls = positive(c.BreakerHalfOpenMaxCalls, d.BreakerHalfOpenMaxCalls)
	return c
}
