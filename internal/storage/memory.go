package storage

import (
	"context"
	"strconv"
	"sync"
)

type memoryEntry struct {
	value   []byte
	version int64
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), entry.value...), strconv.FormatInt(entry.version, 10), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, version string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	current := ""
	if ok {
		current = strconv.FormatInt(entry.version, 10)
	}
	if current != version {
		return "", ErrConflict
	}
	return s.store(key, value, entry.version+1), nil
}

// overwrite stores value regardless of the current version.
func (s *MemoryStore) overwrite(key string, value []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(key, value, s.entries[key].version+1)
}

func (s *MemoryStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryStore) store(key string, value []byte, version int64) string {
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), version: version}
	return strconv.FormatInt(version, 10)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
