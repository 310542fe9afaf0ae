package ds

import "sync"

// LockingMap is a map guarded by a read-write mutex.
type LockingMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewLockingMap[K comparable, V any]() *LockingMap[K, V] {
	return &LockingMap[K, V]{m: make(map[K]V)}
}

func (m *LockingMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.m[key]
	return v, ok
}

func (m *LockingMap[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.m[key] = value
}

func (m *LockingMap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.m, key)
}

// Compute stores and returns fn's result for key. fn receives the current
// value, if any, and runs while the map is locked.
func (m *LockingMap[K, V]) Compute(key K, fn func(current V, ok bool) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.m[key]
	next := fn(current, ok)
	m.m[key] = next
	return next
}

// Update stores fn's result for key, or deletes key when fn returns false.
func (m *LockingMap[K, V]) Update(key K, fn func(current V, ok bool) (V, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.m[key]
	if next, keep := fn(current, ok); keep {
		m.m[key] = next
	} else {
		delete(m.m, key)
	}
}

func (m *LockingMap[K, V]) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.m)
}
