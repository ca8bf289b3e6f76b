package cache

import (
	"context"
	"time"
)

// Timeout arguments understood by Add, Set, SetMany and Touch.
const (
	// DefaultTimeout uses the cache's configured timeout in TTL mode and
	// never expires in capped mode.
	DefaultTimeout time.Duration = 0
	// NoExpiry stores the entry without an expiry. Any negative timeout
	// has the same effect.
	NoExpiry time.Duration = -1
)

// Cache is a key/value cache persisted in a document collection.
//
// Keys are logical keys: every operation normalizes them with MakeKey
// using the cache's version and validates the result with ValidateKey.
type Cache interface {
	// MakeKey returns the storage key for key at the given version.
	MakeKey(key string, version int) string
	// Versioned returns a view of the cache whose operations use version.
	// The view shares the connection; closing either closes both.
	Versioned(version int) Cache

	// Add stores val only if key is not live. It reports whether it wrote.
	// The check and the write are separate round trips, so concurrent
	// callers can both succeed; the last write wins.
	Add(ctx context.Context, key string, val any, timeout time.Duration) (bool, error)
	// Set stores val under key. A store failure returns false, not an error.
	Set(ctx context.Context, key string, val any, timeout time.Duration) (bool, error)
	// SetMany calls Set for each entry and returns the keys that were not
	// written.
	SetMany(ctx context.Context, values map[string]any, timeout time.Duration) ([]string, error)

	// Get returns the live value for key. A miss is (false, Value{}, nil).
	Get(ctx context.Context, key string) (bool, Value, error)
	// GetMany returns the live values among keys in one query, keyed by
	// the keys passed in. Misses are omitted.
	GetMany(ctx context.Context, keys []string) (map[string]Value, error)

	// Delete removes key, or retires it by expiry in a capped collection.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteMany is Delete for several keys in one round trip.
	DeleteMany(ctx context.Context, keys []string) (bool, error)
	// HasKey reports whether key is live.
	HasKey(ctx context.Context, key string) (bool, error)

	// Incr adds delta to a live numeric entry and returns the new value.
	// It returns ErrNotFound when key is not live and ErrNotNumeric when the
	// stored value is not a number. It never creates an entry.
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	// Decr is Incr with -delta.
	Decr(ctx context.Context, key string, delta int64) (int64, error)

	// Touch resets the expiry of a live entry.
	Touch(ctx context.Context, key string, timeout time.Duration) (bool, error)
	// TTL returns the time left before key expires. ok is false when the
	// key is not live or never expires.
	TTL(ctx context.Context, key string) (remaining time.Duration, ok bool, err error)

	// Clear removes every entry, or retires them all in a capped collection.
	Clear(ctx context.Context) (bool, error)
	// Close releases the connection, if one was made.
	Close(ctx context.Context) error
}

// Get retrieves a typed value from the cache.
func Get[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	var result T
	found, val, err := c.Get(ctx, key)
	if !found || err != nil {
		return false, result, err
	}
	if err := val.Decode(&result); err != nil {
		var zero T
		return false, zero, err
	}
	return true, result, nil
}

// GetDefault retrieves a typed value from the cache, returning def on a miss.
func GetDefault[T any](ctx context.Context, c Cache, key string, def T) (T, error) {
	found, val, err := Get[T](ctx, c, key)
	if err != nil || !found {
		return def, err
	}
	return val, nil
}

// GetMany retrieves typed values for the live keys among keys.
func GetMany[T any](ctx context.Context, c Cache, keys []string) (map[string]T, error) {
	vals, err := c.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	result := make(map[string]T, len(vals))
	for key, val := range vals {
		var v T
		if err := val.Decode(&v); err != nil {
			return nil, err
		}
		result[key] = v
	}
	return result, nil
}

// CacheConfig configures the Exec helper.
type CacheConfig struct {
	// Timeout is passed to Set. DefaultTimeout uses the cache's default.
	Timeout time.Duration
	// Key is the cache key. Required.
	Key string
}

// Invoker is a function that produces a value of type T.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value (e.g. sql.ErrNoRows scenarios).
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec is a cache-aside helper. It checks the cache for config.Key first.
// On a cache hit, it returns the cached value with found=true.
// On a cache miss, it calls invoke to produce the value. If invoke returns
// found=true, the value is stored in the cache and returned with found=true.
// If invoke returns found=false, nothing is cached and found=false is returned.
// If invoke or the cache read returns an error, the error is propagated.
// If the cache Set fails after a successful invoke, the value is still
// returned.
func Exec[T any](ctx context.Context, config CacheConfig, c Cache, invoke Invoker[T]) (bool, T, error) {
	found, val, err := Get[T](ctx, c, config.Key)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if found {
		return true, val, nil
	}

	result, ok, err := invoke(ctx)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if !ok {
		var zero T
		return false, zero, nil
	}

	_, _ = c.Set(ctx, config.Key, result, config.Timeout)
	return true, result, nil
}
