// Package memory implements process-scoped domain stores guarded by a mutex.
package memory

import (
	"sync"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Map is a mutex-guarded map satisfying domain.KV.
type Map[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// NewMap creates an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{items: make(map[K]V)}
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

// Put stores value under key.
func (m *Map[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

// Delete removes key. Missing keys are ignored.
func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

// Update applies fn to the current value while holding the write lock and
// stores the result.
func (m *Map[K, V]) Update(key K, fn func(old V, ok bool) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.items[key]
	v := fn(old, ok)
	m.items[key] = v
	return v
}

// Range calls fn for every entry until fn returns false. fn runs on a
// snapshot so it may call back into the map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	m.mu.RLock()
	keys := make([]K, 0, len(m.items))
	vals := make([]V, 0, len(m.items))
	for k, v := range m.items {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	m.mu.RUnlock()

	for i := range keys {
		if !fn(keys[i], vals[i]) {
			return
		}
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Compile-time interface check.
var _ domain.KV[string, int] = (*Map[string, int])(nil)
