package resilience

import (
	"context"
	"strings"
	"sync"
)

// DegradationRegistry maps a service name to the reduced-quality function a
// caller may use when the service is unavailable. The registry never invokes
// a fallback on its own.
type DegradationRegistry[In, Out any] struct {
	mu        sync.RWMutex
	fallbacks map[string]func(context.Context, In) (Out, error)
}

func NewDegradationRegistry[In, Out any]() *DegradationRegistry[In, Out] {
	return &DegradationRegistry[In, Out]{
		fallbacks: make(map[string]func(context.Context, In) (Out, error)),
	}
}

func (r *DegradationRegistry[In, Out]) Register(service string, fn func(context.Context, In) (Out, error)) {
	service = strings.TrimSpace(service)
	if service == "" || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[service] = fn
}

func (r *DegradationRegistry[In, Out]) Fallback(service string) (func(context.Context, In) (Out, error), bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fallbacks[service]
	return fn, ok
}
