package task

import (
	"sort"
	"sync"
)

// Well-known shared context keys. Kinds document additional keys they read
// or write alongside their implementation.
const (
	KeyPosts          = "posts"
	KeyCurrentPostURL = "current_post_url"
	KeyLoggedIn       = "session.logged_in"
	KeyUsername       = "session.username"
	KeyCommented      = "commented_posts"
	KeyLiked          = "liked_posts"
	KeyLoopIteration  = "loop.iteration"
)

// ResultKey is the key under which the scheduler stores a task's payload.
func ResultKey(taskID string) string {
	return "task_" + taskID + "_result"
}

// Shared is the mutable key/value store passed between tasks of a run.
// All methods are safe for concurrent use.
type Shared struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewShared creates a store seeded with the given values.
func NewShared(seed map[string]any) *Shared {
	s := &Shared{values: make(map[string]any, len(seed))}
	for k, v := range seed {
		s.values[k] = v
	}
	return s
}

func (s *Shared) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Shared) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Shared) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Update applies fn to the current value of key under the write lock.
func (s *Shared) Update(key string, fn func(old any, ok bool) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.values[key]
	s.values[key] = fn(old, ok)
}

// Keys returns all keys in sorted order.
func (s *Shared) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the store.
func (s *Shared) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Lookup returns the value for key if present and of type T.
func Lookup[T any](s *Shared, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// AppendString appends value to the string list stored under key.
func AppendString(s *Shared, key, value string) {
	s.Update(key, func(old any, _ bool) any {
		list, _ := old.([]string)
		return append(append([]string(nil), list...), value)
	})
}
