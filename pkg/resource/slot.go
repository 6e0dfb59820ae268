// Package resource provides an owned slot for resources that are absent
// until acquired and return to absent on release.
package resource

import (
	"errors"
	"sync"
)

// ErrOccupied is returned by Acquire when the slot already holds a value.
var ErrOccupied = errors.New("resource slot already occupied")

// Slot holds at most one value of T.
type Slot[T any] struct {
	mu    sync.Mutex
	value T
	held  bool
}

// Acquire stores v. It fails if the slot is occupied.
func (s *Slot[T]) Acquire(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return ErrOccupied
	}
	s.value = v
	s.held = true
	return nil
}

// Get returns the held value and whether one is present.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.held
}

// Held reports whether the slot holds a value.
func (s *Slot[T]) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Release empties the slot and returns the previous value, if any.
func (s *Slot[T]) Release() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, held := s.value, s.held
	var zero T
	s.value = zero
	s.held = false
	return v, held
}

// Swap replaces the held value and returns the previous one.
func (s *Slot[T]) Swap(v T) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, held := s.value, s.held
	s.value = v
	s.held = true
	return prev, held
}
