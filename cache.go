package gamecore

import (
	"context"
	"time"
)

// Cache is the out-of-process (L2) cache interface the store can consult
// between its in-memory working set and the repository. Implementations:
// redis (clustered) and cache (in-memory, standalone).
type Cache interface {
	// Set caches a string value with the given expiration. A negative
	// expiration disables caching for the call.
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get fetches a string value; found=false (with nil error) when absent.
	Get(ctx context.Context, key string) (bool, string, error)
	// SetStruct caches a struct marshaled with the default marshaler.
	SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error
	// GetStruct fetches into target; found=false (with nil error) when absent.
	GetStruct(ctx context.Context, key string, target any) (bool, error)
	// Delete removes keys; found=false when none of them were cached.
	Delete(ctx context.Context, keys []string) (bool, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Clear empties the cache. Use with care on shared backends.
	Clear(ctx context.Context) error
}

// CloseableCache is a Cache with an owned connection that should be closed
// when no longer needed.
type CloseableCache interface {
	Cache
	Close() error
}
