package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is the last-resort backend for local development, state is
// lost on restart
type MemoryStore struct {
	mutex   sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(stored.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}

	entry := stored.entry
	entry.Requests = append([]int64(nil), stored.entry.Requests...)
	return &entry, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := *entry
	stored.Requests = append([]int64(nil), entry.Requests...)
	s.entries[key] = memoryEntry{
		entry:     stored,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Name() string {
	return "memory"
}
