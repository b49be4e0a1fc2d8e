// Package safemap provides a typed concurrent map built on sync.Map. The lobby
// server uses it as its table of active sessions.
package safemap

import "sync"

// SafeMap is a concurrent map with typed keys and values. It must not be
// copied after first use. Len and Values are O(n).
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns an empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, replacing any existing value.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value for k and whether it was present. A missing key
// yields the zero value of V.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value for k, or the zero value of V
//   - true if k was present
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// LoadAndDelete removes k and returns the value it held, if any.
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	v, found := m.m.LoadAndDelete(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Delete removes k. Deleting a missing key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted during the call may or may not be visited.
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len returns the number of entries.
func (m *SafeMap[K, V]) Len() int {
	n := 0
	m.Range(func(K, V) bool {
		n++
		return true
	})

	return n
}

// Values returns a snapshot of the stored values in no particular order.
func (m *SafeMap[K, V]) Values() []V {
	var values []V
	m.Range(func(_ K, v V) bool {
		values = append(values, v)
		return true
	})

	return values
}
