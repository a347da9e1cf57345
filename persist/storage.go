package persist

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// Storage is a byte store addressed by string keys.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Load returns ErrNotFound for an absent key.
// - Save replaces the value; a failed Save leaves the previous value intact.
// - Remove of an absent key is not an error.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Remove(ctx context.Context, key string) error
}

var storageKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func validateStorageKey(key string) error {
	if !storageKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// MemoryStorage keeps values in memory. A positive quota bounds the total
// size of all values, like a browser's local storage.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
	used  int
	quota int
}

// NewMemoryStorage creates a MemoryStorage. quota <= 0 means unbounded.
func NewMemoryStorage(quota int) *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte), quota: quota}
}

// Load returns the value of key.
func (m *MemoryStorage) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save stores data under key, or returns ErrQuotaExceeded.
func (m *MemoryStorage) Save(_ context.Context, key string, data []byte) error {
	if err := validateStorageKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	used := m.used - len(m.items[key]) + len(data)
	if m.quota > 0 && used > m.quota {
		return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, used, m.quota)
	}
	m.items[key] = append([]byte(nil), data...)
	m.used = used
	return nil
}

// Remove deletes key.
func (m *MemoryStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= len(m.items[key])
	delete(m.items, key)
	return nil
}

// Used returns the bytes currently stored.
func (m *MemoryStorage) Used() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

var _ Storage = (*MemoryStorage)(nil)
