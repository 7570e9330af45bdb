// internal/room/store.go
package room

import "sync"

// store is a mutex-guarded map used for the registry and the per-player shortcut maps.
type store[V comparable] struct {
	mu    sync.Mutex
	items map[string]V
}

func newStore[V comparable]() *store[V] {
	return &store[V]{items: make(map[string]V)}
}

func (s *store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *store[V]) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *store[V]) Set(key string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = v
}

// PutIfAbsent stores v only when key is free and reports whether it did.
func (s *store[V]) PutIfAbsent(key string, v V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = v
	return true
}

func (s *store[V]) LoadAndDelete(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// CompareAndDelete removes key only while it still maps to old.
func (s *store[V]) CompareAndDelete(key string, old V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok && v == old {
		delete(s.items, key)
		return true
	}
	return false
}

// Values returns a copy of the stored values, safe to range over without the lock.
func (s *store[V]) Values() []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]V, 0, len(s.items))
	for _, v := range s.items {
		out = append(out, v)
	}
	return out
}
