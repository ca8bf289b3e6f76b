package cache

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCacheMiss(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, TTLMode{Timeout: time.Minute})

	invoked := false
	found, val, err := Exec(ctx, CacheConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh-value", val)
	assert.True(t, invoked)

	// Value should now be cached.
	cachedFound, cached, err := Get[string](ctx, c, "key")
	assert.NoError(t, err)
	assert.True(t, cachedFound)
	assert.Equal(t, "fresh-value", cached)
}

func TestExecCacheHit(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, TTLMode{Timeout: time.Minute})

	_, err := c.Set(ctx, "key", "cached-value", DefaultTimeout)
	require.NoError(t, err)

	invoked := false
	found, val, err := Exec(ctx, CacheConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cached-value", val)
	assert.False(t, invoked)
}

func TestExecInvokerError(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, TTLMode{Timeout: time.Minute})

	expectedErr := errors.New("invoke failed")
	found, val, err := Exec(ctx, CacheConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		return "", false, expectedErr
	})
	assert.ErrorIs(t, err, expectedErr)
	assert.False(t, found)
	assert.Equal(t, "", val)

	// Nothing should be cached.
	ok, _, getErr := c.Get(ctx, "key")
	assert.NoError(t, getErr)
	assert.False(t, ok)
}

func TestExecTimeout(t *testing.T) {
	ctx := context.Background()
	c, clock, _ := newTestCache(t, TTLMode{Timeout: time.Minute})

	found, val, err := Exec(ctx, CacheConfig{Key: "short", Timeout: 20 * time.Second}, c, func(ctx context.Context) (int, bool, error) {
		return 99, true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 99, val)

	remaining, ok, err := c.TTL(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20*time.Second, remaining)

	clock.Advance(30 * time.Second)
	cachedFound, _, err := Get[int](ctx, c, "short")
	assert.NoError(t, err)
	assert.False(t, cachedFound)
}

func TestExecStruct(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, CappedMode{MaxEntries: 100})

	type Item struct {
		Name  string
		Count int
		Big   uint64
	}

	expected := Item{Name: "widget", Count: 7, Big: 1 << 63}
	found, val, execErr := Exec(ctx, CacheConfig{Key: "item"}, c, func(ctx context.Context) (Item, bool, error) {
		return expected, true, nil
	})
	assert.NoError(t, execErr)
	assert.True(t, found)
	assert.Equal(t, expected, val)

	// Second call should be a cache hit, decoded from the stored blob.
	invoked := false
	found, val, execErr = Exec(ctx, CacheConfig{Key: "item"}, c, func(ctx context.Context) (Item, bool, error) {
		invoked = true
		return Item{}, true, nil
	})
	assert.NoError(t, execErr)
	assert.True(t, found)
	assert.Equal(t, expected, val)
	assert.False(t, invoked)
}

func TestExecInvokerCalledOnce(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, TTLMode{Timeout: time.Minute})

	callCount := 0
	invoker := func(ctx context.Context) (string, bool, error) {
		callCount++
		return "result", true, nil
	}

	cfg := CacheConfig{Key: "once", Timeout: time.Minute}

	found, val, err := Exec(ctx, cfg, c, invoker)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "result", val)
	assert.Equal(t, 1, callCount)

	found, val, err = Exec(ctx, cfg, c, invoker)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "result", val)
	assert.Equal(t, 1, callCount)
}

func TestExecInvokerNotFound(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, TTLMode{Timeout: time.Minute})

	found, val, err := Exec(ctx, CacheConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		return "", false, nil
	})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "", val)

	ok, err := c.HasKey(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestExecCacheReadError(t *testing.T) {
	ctx := context.Background()
	c := &errorCache{err: errors.New("socket closed")}

	invoked := false
	found, val, err := Exec(ctx, CacheConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "value", true, nil
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "socket closed")
	assert.False(t, found)
	assert.Equal(t, "", val)
	assert.False(t, invoked, "invoker should not be called when cache returns an error")
}

// errorCache is a test double whose reads always fail.
type errorCache struct {
	Cache
	err error
}

func (e *errorCache) Get(context.Context, string) (bool, Value, error) {
	return false, Value{}, e.err
}

func TestExecNotFoundThenFound(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, TTLMode{Timeout: time.Minute})

	callCount := 0
	invoker := func(ctx context.Context) (string, bool, error) {
		callCount++
		if callCount == 1 {
			return "", false, nil
		}
		return "appeared", true, nil
	}

	found, _, err := Exec(ctx, CacheConfig{Key: "key"}, c, invoker)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, callCount)

	found, val, err := Exec(ctx, CacheConfig{Key: "key"}, c, invoker)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "appeared", val)
	assert.Equal(t, 2, callCount)

	found, val, err = Exec(ctx, CacheConfig{Key: "key"}, c, invoker)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "appeared", val)
	assert.Equal(t, 2, callCount)
}
