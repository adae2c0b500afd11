// Package store defines the pluggable backing-store abstraction consumed
// by the durable cache tier, along with adapters for in-memory, ristretto,
// Redis and SQLite backends.
//
// Adapters report backend failures as errors; converting those into
// misses/no-ops is the durable tier's job, not the adapter's. Transient
// failures (unreachable backend) are wrapped in [ErrUnavailable] so callers
// can decide whether a retry is worthwhile.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a transient backend failure: the store exists and is
// configured, but could not be reached right now.
var ErrUnavailable = errors.New("store: backend unavailable")

// Store is the minimal contract every backing store implements. A zero ttl
// means the entry has no automatic expiration.
type Store interface {
	// Get retrieves a value by key. The boolean reports presence.
	Get(ctx context.Context, key string) (any, bool, error)

	// Put stores a value under key with the given TTL.
	Put(ctx context.Context, key string, val any, ttl time.Duration) error

	// Forget removes key, reporting whether an entry was removed.
	Forget(ctx context.Context, key string) (bool, error)

	// Flush removes every entry owned by this store.
	Flush(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// TagStore is implemented by stores that maintain a tag index. Stores
// lacking the capability simply do not implement it; the durable tier
// degrades tag operations to a logged no-op in that case.
type TagStore interface {
	Store

	// PutTagged stores a value and records it under each tag.
	PutTagged(ctx context.Context, key string, val any, ttl time.Duration, tags []string) error

	// FlushTags removes every entry recorded under at least one of tags.
	FlushTags(ctx context.Context, tags []string) error
}
