// Package store keeps serialized composition graphs in a shared blob store.
//
// Every backend implements Store. Keys are opaque strings, usually
// fingerprints computed by the coordinator; values are the encoded graph
// bytes. Backends prepend Config.Prefix to every key so several caches can
// share one backend.
package store

import (
	"context"
	"errors"
	"time"
)

// Store defines the interface for all blob store backends
type Store interface {
	// Get retrieves a blob. A missing or expired key returns ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a blob with a TTL. A zero TTL uses the configured default;
	// a negative TTL stores the blob without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every blob under the store's prefix
	Clear(ctx context.Context) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)
}

// Config holds common configuration for store backends
type Config struct {
	// DefaultTTL is used when Set is called with a zero TTL. Zero means no expiry.
	DefaultTTL time.Duration
	// Prefix is prepended to all keys
	Prefix string
}

// DefaultConfig returns a default store configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 24 * time.Hour,
		Prefix:     "compcache:",
	}
}

// ttl resolves the effective TTL for a Set call. Zero means no expiry.
func (c Config) ttl(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return c.DefaultTTL
	case ttl < 0:
		return 0
	}
	return ttl
}

// expiry returns the absolute expiry for a Set call, or the zero time.
func (c Config) expiry(ttl time.Duration) time.Time {
	if d := c.ttl(ttl); d > 0 {
		return time.Now().Add(d)
	}
	return time.Time{}
}

// ErrMiss is returned when a key is not found in the store
type ErrMiss struct {
	Key string
}

func (e ErrMiss) Error() string {
	return "store: miss: " + e.Key
}

// IsMiss checks if an error is a store miss
func IsMiss(err error) bool {
	var miss ErrMiss
	return errors.As(err, &miss)
}

// ErrInvalidKey is returned when a key cannot be stored by a backend.
var ErrInvalidKey = errors.New("store: invalid key")

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
