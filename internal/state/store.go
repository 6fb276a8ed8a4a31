// Package state provides a keyed store whose entries are accessed under a
// per-key lock, so all processing for one key is effectively serialized
// while different keys proceed concurrently.
package state

import (
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	mu         sync.Mutex
	value      T
	lastActive time.Time
}

// Store holds one value of type T per key. Entries are created lazily on
// first access and evicted after a period of inactivity.
type Store[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	ttl     time.Duration
	now     func() time.Time
}

func New[T any](ttl time.Duration) *Store[T] {
	return &Store[T]{
		entries: make(map[string]*entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// With runs fn with exclusive access to the value for key. Two concurrent
// calls for the same key never interleave; calls for different keys do
// not block each other.
func (s *Store[T]) With(key string, fn func(*T)) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry[T]{}
		s.entries[key] = e
	}
	e.lastActive = s.now()
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.value)
}

// Len reports the number of live entries.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Evict drops entries idle for longer than the store's TTL. Entries whose
// lock is currently held are skipped and picked up on a later sweep.
func (s *Store[T]) Evict() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, e := range s.entries {
		if e.lastActive.After(cutoff) {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		delete(s.entries, key)
		e.mu.Unlock()
		evicted++
	}
	return evicted
}

// StartJanitor sweeps expired entries until ctx is cancelled.
func (s *Store[T]) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict()
		}
	}
}
