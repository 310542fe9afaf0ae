package ds

import "iter"

// Set keeps unique values in insertion order.
type Set[T comparable] struct {
	m map[T]struct{}
	l []T
}

func NewSet[T comparable](capacity int) *Set[T] {
	return &Set[T]{
		m: make(map[T]struct{}, capacity),
		l: make([]T, 0, capacity),
	}
}

func SetOf[T comparable](vs ...T) *Set[T] {
	s := NewSet[T](len(vs))
	s.Add(vs...)
	return s
}

func (s *Set[T]) Add(vs ...T) {
	for _, v := range vs {
		if !s.Has(v) {
			s.m[v] = struct{}{}
			s.l = append(s.l, v)
		}
	}
}

func (s *Set[T]) Has(v T) bool {
	_, ok := s.m[v]
	return ok
}

func (s *Set[T]) Size() int {
	if s == nil {
		return 0
	}
	return len(s.l)
}

func (s *Set[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if s == nil {
			return
		}
		for _, v := range s.l {
			if !yield(v) {
				return
			}
		}
	}
}
