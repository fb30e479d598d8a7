// Package store abstracts the durable key-value storage used for session
// markers (start instant, countdown snapshot, session lock), so the
// controller can run against Redis, a local SQLite file, or an in-memory map
// in tests.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal contract the session controller needs from durable
// storage. Implementations must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetNX writes the value only if the key is absent and reports whether
	// the write happened. Used for the cross-tab session lock.
	SetNX(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
