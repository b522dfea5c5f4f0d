package kvstore

import (
	"fmt"
	"sync"
)

// MemoryStore is an in-process store. It backs the session scope in
// production and every scope in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	values        map[string]string
	maxValueBytes int
}

// NewMemoryStore creates an empty store. maxValueBytes <= 0 disables the quota.
func NewMemoryStore(maxValueBytes int) *MemoryStore {
	return &MemoryStore{
		values:        make(map[string]string),
		maxValueBytes: maxValueBytes,
	}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	if s.maxValueBytes > 0 && len(value) > s.maxValueBytes {
		return fmt.Errorf("set %s (%d bytes): %w", key, len(value), ErrQuotaExceeded)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
