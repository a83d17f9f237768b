package monitoring

import (
	"sync"
	"time"
)

// ringLog keeps at most max items no older than maxAge, evicting the oldest
// first. Items are expected in arrival order.
type ringLog[T any] struct {
	mu     sync.RWMutex
	buf    []T
	head   int
	size   int
	maxAge time.Duration
	stamp  func(T) time.Time
}

func newRingLog[T any](max int, maxAge time.Duration, stamp func(T) time.Time) *ringLog[T] {
	if max <= 0 {
		max = 1
	}
	return &ringLog[T]{
		buf:    make([]T, max),
		maxAge: maxAge,
		stamp:  stamp,
	}
}

func (l *ringLog[T]) append(item T, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size == len(l.buf) {
		l.popLocked()
	}
	l.buf[(l.head+l.size)%len(l.buf)] = item
	l.size++
	l.pruneLocked(now)
}

func (l *ringLog[T]) prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(now)
}

func (l *ringLog[T]) pruneLocked(now time.Time) int {
	if l.maxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-l.maxAge)
	evicted := 0
	for l.size > 0 && l.stamp(l.buf[l.head]).Before(cutoff) {
		l.popLocked()
		evicted++
	}
	return evicted
}

func (l *ringLog[T]) popLocked() {
	var zero T
	l.buf[l.head] = zero
	l.head = (l.head + 1) % len(l.buf)
	l.size--
}

// since returns a copy of the retained items stamped at or after from.
func (l *ringLog[T]) since(from, now time.Time) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var cutoff time.Time
	if l.maxAge > 0 {
		cutoff = now.Add(-l.maxAge)
	}
	out := make([]T, 0, l.size)
	for i := 0; i < l.size; i++ {
		item := l.buf[(l.head+i)%len(l.buf)]
		at := l.stamp(item)
		if at.Before(from) || at.Before(cutoff) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (l *ringLog[T]) last() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var zero T
	if l.size == 0 {
		return zero, false
	}
	return l.buf[(l.head+l.size-1)%len(l.buf)], true
}

func (l *ringLog[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}
