// Package localstore provides the persistent string-keyed mapping the sync
// coordinator uses for offline-first storage.
//
// Two implementations are available:
//   - SQLite: a kv table in an embedded SQLite file (WAL mode), the default
//   - Memory: a map guarded by a mutex, for tests and throwaway sessions
package localstore

import (
	"sort"
	"sync"
)

// Store is a synchronous key/value mapping with string keys and values.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Close releases the underlying resources.
	Close() error
}

// BatchSetter is implemented by stores that can write several keys atomically.
type BatchSetter interface {
	SetAll(values map[string]string) error
}

// Memory is an in-memory Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get implements Store.Get.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Store.Set.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// SetAll implements BatchSetter.
func (m *Memory) SetAll(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// SetAll writes values through BatchSetter when the store supports it and
// falls back to one Set per key otherwise.
func SetAll(s Store, values map[string]string) error {
	if b, ok := s.(BatchSetter); ok {
		return b.SetAll(values)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Set(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}
