package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Store is a keyed byte store with per-key TTL, shared by every process
// instance that points at the same backend. Writes are last-writer-wins.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value with the given TTL. A non-positive TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Take atomically reads and deletes key, so at most one caller ever
	// observes a given value. Returns ErrNotFound if absent or expired.
	Take(ctx context.Context, key string) ([]byte, error)

	// Keys lists live keys that start with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
