package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor guards named services with a consecutive-failure circuit breaker,
// a per-attempt hard timeout and classified retries.
type Executor struct {
	cfg     Config
	retrier *Retrier
	now     func() time.Time

	mu       sync.Mutex
	breakers map[string]*breakerEntry
}

type breakerEntry struct {
	cb *gobreaker.CircuitBreaker[any]

	mu            sync.Mutex
	failures      int
	lastFailureAt time.Time
}

func NewExecutor(cfg Config) *Executor {
	cfg = cfg.normalize()
	return &Executor{
		cfg:      cfg,
		retrier:  &Retrier{cfg: cfg},
		now:      time.Now,
		breakers: make(map[string]*breakerEntry),
	}
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = DefaultClassifier
	}

	attempt := func(attemptCtx context.Context) error {
		return WithTimeout(attemptCtx, op, e.cfg.AttemptTimeout, fn)
	}

	if !e.cfg.BreakerEnabled {
		_, err := e.retrier.Do(ctx, op, attempt, classifier)
		return err
	}

	entry := e.breaker(op, classifier)
	_, err := entry.cb.Execute(func() (any, error) {
		_, err := e.retrier.Do(ctx, op, attempt, classifier)
		return nil, err
	})
	if IsCircuitOpen(err) {
		return &domain.PipelineError{
			Kind:    domain.ErrCircuitOpen,
			Op:      op,
			Context: map[string]string{"service": op},
			Err:     err,
		}
	}
	entry.observe(err, classifier, e.now())
	return err
}

// Available reports whether calls to the service would currently be attempted.
func (e *Executor) Available(service string) bool {
	return e.BreakerState(service).State != domain.BreakerOpen
}

func (e *Executor) BreakerState(service string) domain.CircuitBreakerState {
	e.mu.Lock()
	entry, ok := e.breakers[service]
	e.mu.Unlock()
	if !ok {
		return domain.CircuitBreakerState{Service: service, State: domain.BreakerClosed}
	}
	return entry.snapshot(service)
}

func (e *Executor) BreakerStates() []domain.CircuitBreakerState {
	e.mu.Lock()
	names := make([]string, 0, len(e.breakers))
	entries := make(map[string]*breakerEntry, len(e.breakers))
	for name, entry := range e.breakers {
		names = append(names, name)
		entries[name] = entry
	}
	e.mu.Unlock()

	sort.Strings(names)
	out := make([]domain.CircuitBreakerState, 0, len(names))
	for _, name := range names {
		out = append(out, entries[name].snapshot(name))
	}
	return out
}

func (e *Executor) breaker(operation string, classifier ErrorClassifier) *breakerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry, ok := e.breakers[operation]; ok {
		return entry
	}

	threshold := e.cfg.BreakerFailureThreshold
	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	entry := &breakerEntry{cb: gobreaker.NewCircuitBreaker[any](settings)}
	e.breakers[operation] = entry
	return entry
}

func (b *breakerEntry) observe(err error, classifier ErrorClassifier, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil || !classifier(err).RecordFailure {
		b.failures = 0
		return
	}
	b.failures++
	b.lastFailureAt = now
}

func (b *breakerEntry) snapshot(service string) domain.CircuitBreakerState {
	state := b.cb.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	out := domain.CircuitBreakerState{
		Service:             service,
		State:               mapState(state),
		ConsecutiveFailures: b.failures,
	}
	if !b.lastFailureAt.IsZero() {
		at := b.lastFailureAt
		out.LastFailureAt = &at
	}
	return out
}

func mapState(state gobreaker.State) domain.BreakerState {
	switch state {
	case gobreaker.StateOpen:
		return domain.BreakerOpen
	case gobreaker.StateHalfOpen:
		return domain.BreakerHalfOpen
	default:
		return domain.BreakerClosed
	}
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, domain.ErrCircuitOpen)
}

// DefaultClassifier retries recoverable pipeline errors and records every
// failure except caller cancellation and rejected input.
func DefaultClassifier(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, domain.ErrInvalidInput) || domain.CodeOf(err) == domain.CodeNotFound {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return ErrorClassification{
		Retryable:     domain.IsRecoverable(err),
		RecordFailure: true,
	}
}
