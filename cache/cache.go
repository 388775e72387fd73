// Package cache holds the stored responses and the stores keeping them.
package cache

import (
	"context"

	cachekey "github.com/always-cache/transcache/pkg/cache-key"
)

// Cache stores entries by key.
//
// Implementations must be safe for concurrent use. Put replaces the whole
// value of a key at once; of two concurrent puts for a key the last one wins.
// There is no error channel: a store that fails reports a miss for Get and
// does nothing for the other methods, logging the failure itself.
type Cache interface {
	// Get returns the entry for the key. Expired entries are misses.
	// The returned entry must not be modified.
	Get(ctx context.Context, key cachekey.CacheKey) (*Entry, bool)
	// Put stores the entry under the key.
	Put(ctx context.Context, key cachekey.CacheKey, entry *Entry)
	// Invalidate removes the entry for the key.
	Invalidate(ctx context.Context, key cachekey.CacheKey)
	// InvalidateAll removes all entries.
	InvalidateAll(ctx context.Context)
}
