// Package cache provides the in-memory response cache used for card lookup
// results. Card metadata changes slowly, so repeated frontend lookups can be
// served without touching the upstream API.
package cache

import (
	"context"
)

// Cache stores lookup responses by key. The generic type T is the cached
// response type.
type Cache[T any] interface {
	// Get retrieves a response from the cache.
	// Returns the response, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a response in the cache.
	Set(ctx context.Context, key string, value T) error

	// Invalidate removes a response from the cache.
	Invalidate(ctx context.Context, key string) error
}

// Fetch returns the cached value for key, filling the cache from fill on a
// miss. The cache is non-locking across the fill: concurrent misses for the
// same key may each call fill, and the last result wins. Fill errors are
// returned without caching. A cache read error is treated as a miss; a write
// error is ignored, as the fetched value is still usable.
func Fetch[T any](ctx context.Context, c Cache[T], key string, fill func(context.Context) (T, error)) (T, error) {
	if value, ok, err := c.Get(ctx, key); err == nil && ok {
		return value, nil
	}

	value, err := fill(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	_ = c.Set(ctx, key, value)
	return value, nil
}
