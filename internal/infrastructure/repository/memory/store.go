package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/core/ports"
)

// Store is a process-local KeyValueStore used by tests and single-node runs.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Scan(_ context.Context, prefix string) ([]ports.KeyValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ports.KeyValue, 0)
	for key, value := range s.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ports.KeyValue{Key: key, Value: append([]byte(nil), value...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
