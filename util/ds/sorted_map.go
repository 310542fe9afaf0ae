package ds

import (
	"cmp"
	"slices"
)

// SortedMap is a map whose values are listed in key order. Sorting is
// deferred until values are read.
type SortedMap[K cmp.Ordered, V any] struct {
	keys     []K
	m        map[K]V
	isSorted bool
}

func NewSortedMap[K cmp.Ordered, V any]() *SortedMap[K, V] {
	return &SortedMap[K, V]{m: make(map[K]V), isSorted: true}
}

// Set stores v under k and reports whether k is new.
func (sm *SortedMap[K, V]) Set(k K, v V) bool {
	_, had := sm.m[k]
	sm.m[k] = v
	if !had {
		sm.keys = append(sm.keys, k)
		sm.isSorted = false
	}
	return !had
}

func (sm *SortedMap[K, V]) Get(k K) (V, bool) {
	v, ok := sm.m[k]
	return v, ok
}

func (sm *SortedMap[K, V]) Has(k K) bool {
	_, ok := sm.m[k]
	return ok
}

// Values returns a new slice of the values ordered by key.
func (sm *SortedMap[K, V]) Values() []V {
	sm.sort()
	values := make([]V, len(sm.keys))
	for i, k := range sm.keys {
		values[i] = sm.m[k]
	}
	return values
}

func (sm *SortedMap[K, V]) Delete(k K) bool {
	if _, ok := sm.m[k]; !ok {
		return false
	}
	sm.sort()
	if i, found := slices.BinarySearch(sm.keys, k); found {
		sm.keys = slices.Delete(sm.keys, i, i+1)
	}
	delete(sm.m, k)
	return true
}

func (sm *SortedMap[K, V]) Size() int {
	return len(sm.m)
}

func (sm *SortedMap[K, V]) sort() {
	if !sm.isSorted {
		slices.Sort(sm.keys)
		sm.isSorted = true
	}
}
