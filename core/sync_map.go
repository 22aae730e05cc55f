package core

import "sync"

// SyncMap is a map guarded by a RWMutex. Unlike sync.Map it is typed and
// supports atomic read-modify-write through Update.
type SyncMap[K comparable, V any] struct {
	m  map[K]V
	mu sync.RWMutex
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: make(map[K]V),
	}
}

func (s *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok = s.m[key]
	return
}

// Update applies f to the current value of key and stores the result.
// The previous value and whether it existed are returned. The whole
// operation is atomic.
func (s *SyncMap[K, V]) Update(key K, f func(value V, ok bool) V) (prev V, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed = s.m[key]
	s.m[key] = f(prev, existed)
	return
}

func (s *SyncMap[K, V]) Store(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// LoadAndDelete removes key and returns the value it held.
func (s *SyncMap[K, V]) LoadAndDelete(key K) (value V, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok = s.m[key]
	delete(s.m, key)
	return
}

func (s *SyncMap[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// DeleteFunc removes every entry for which del returns true and reports
// how many were removed.
func (s *SyncMap[K, V]) DeleteFunc(del func(key K, value V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.m {
		if del(k, v) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

func (s *SyncMap[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Range calls f for each entry under the read lock until f returns false.
// f must not call back into the map.
func (s *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.m {
		if !f(k, v) {
			break
		}
	}
}
