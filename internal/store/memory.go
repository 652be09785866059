package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryKV is the in-process backend used by tests and by single-node
// deployments that do not run Redis. Unlike the distributed backends it is
// strongly consistent, so tests exercise the issuance race by interleaving
// through the hooks instead.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string

	// BeforePut, when set, runs before each Put/PutIfAbsent commits, outside
	// the lock. Returning an error aborts the write, which is how tests
	// simulate a crash between the license write and the index write.
	BeforePut func(key, value string) error
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *MemoryKV) Put(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.BeforePut != nil {
		if err := m.BeforePut(key, value); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.BeforePut != nil {
		if err := m.BeforePut(key, value); err != nil {
			return false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *MemoryKV) CountPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count, nil
}

// Len reports the number of stored keys across all namespaces.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
