// Package session guards client-side authentication state: the cross-tab
// phase flag, the inactivity timeout, and the login-page race rules.
package session

import "sync"

// Storage is the shared key-value store the portal keeps its cross-tab
// session flags in. One instance is shared by the login coordinator, the
// timeout monitor and anything else in the process, the way tabs share
// localStorage. It is never locked across operations; correctness comes
// from the phase precedence rules and the clear-then-restore ordering in
// the logout sequence.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Clear()
}

// MemoryStorage is the in-process Storage used by the SDK and by tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemoryStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func (s *MemoryStorage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
}
