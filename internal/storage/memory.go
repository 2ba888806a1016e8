package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time // zero means no expiration
}

// MemoryStore is a thread-safe in-memory engine for tests and ephemeral
// deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryEntry)}
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", key, err)
	}

	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = time.Now().UTC().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string, dest any) (bool, error) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().UTC().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return false, fmt.Errorf("decoding record %s: %w", key, err)
	}
	return true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	var raw json.RawMessage
	return s.Get(ctx, key, &raw)
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context) (int64, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, entry := range s.items {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.items, key)
			removed++
		}
	}
	return removed, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
