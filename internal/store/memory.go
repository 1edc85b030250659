package store

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryEntries bounds a MemoryStore created with a non-positive size.
const DefaultMemoryEntries = 256

// MemoryStore implements an in-process store bounded by entry count.
// The least recently used blob is evicted first.
type MemoryStore struct {
	data   *lru.Cache[string, memoryItem]
	config Config
}

// memoryItem represents an item stored in the cache
type memoryItem struct {
	value      []byte
	expiration time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemoryStore creates a new in-memory store with default configuration
func NewMemoryStore(size int) (*MemoryStore, error) {
	return NewMemoryStoreWithConfig(size, DefaultConfig())
}

// NewMemoryStoreWithConfig creates a new in-memory store with custom configuration
func NewMemoryStoreWithConfig(size int, config Config) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	data, err := lru.New[string, memoryItem](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{data: data, config: config}, nil
}

// Get retrieves a blob
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	fullKey := m.config.Prefix + key
	item, ok := m.data.Get(fullKey)
	if !ok {
		return nil, ErrMiss{Key: key}
	}
	if item.expired(time.Now()) {
		m.data.Remove(fullKey)
		return nil, ErrMiss{Key: key}
	}

	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores a blob with a TTL
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	item := memoryItem{
		value:      append([]byte(nil), value...),
		expiration: m.config.expiry(ttl),
	}
	m.data.Add(m.config.Prefix+key, item)
	return nil
}

// Delete removes a blob
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	m.data.Remove(m.config.Prefix + key)
	return nil
}

// Clear removes every blob under the prefix
func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if m.config.Prefix == "" {
		m.data.Purge()
		return nil
	}
	for _, k := range m.data.Keys() {
		if strings.HasPrefix(k, m.config.Prefix) {
			m.data.Remove(k)
		}
	}
	return nil
}

// Exists checks if a key exists
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	fullKey := m.config.Prefix + key
	item, ok := m.data.Peek(fullKey)
	if !ok {
		return false, nil
	}
	if item.expired(time.Now()) {
		m.data.Remove(fullKey)
		return false, nil
	}
	return true, nil
}

// Len returns the number of stored blobs, including expired ones not yet evicted.
func (m *MemoryStore) Len() int {
	return m.data.Len()
}
