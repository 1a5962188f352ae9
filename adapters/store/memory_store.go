package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/slashauth/core"
)

type memoryRecord struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-memory Storage, shared by every client built on it
type MemoryStore struct {
	records map[string]memoryRecord
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

// Set stores value under key; a non-positive ttl never expires
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := memoryRecord{value: value}
	if ttl > 0 {
		rec.expiresAt = s.now().Add(ttl)
	}
	s.records[key] = rec
	return nil
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return "", core.ErrNotFound
	}

	if !rec.expiresAt.IsZero() && !s.now().Before(rec.expiresAt) {
		s.mu.Lock()
		if cur, exists := s.records[key]; exists && cur.expiresAt.Equal(rec.expiresAt) {
			delete(s.records, key)
		}
		s.mu.Unlock()
		return "", core.ErrNotFound
	}

	return rec.value, nil
}

// Remove deletes key; removing a missing key is not an error
func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// Keys lists the live keys starting with prefix
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys := make([]string, 0, len(s.records))
	for k, rec := range s.records {
		if !rec.expiresAt.IsZero() && !now.Before(rec.expiresAt) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored records, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
