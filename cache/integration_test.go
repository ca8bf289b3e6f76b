package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/agentuity/go-mongocache/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMongoTestCache connects to the server in MONGOCACHE_TEST_URI using a
// collection unique to the test, dropped on cleanup.
func newMongoTestCache(t *testing.T, mode Mode) *documentCache {
	t.Helper()
	uri := os.Getenv("MONGOCACHE_TEST_URI")
	if uri == "" {
		t.Skip("MONGOCACHE_TEST_URI not set")
	}
	collection := fmt.Sprintf("test_%d", time.Now().UnixNano())
	settings := Settings{
		Location: uri,
		Options:  map[string]any{"DATABASE": "mongocache_test", "COLLECTION": collection},
	}
	switch m := mode.(type) {
	case TTLMode:
		settings.Timeout = m.Timeout.String()
	case CappedMode:
		settings.MaxEntries = m.MaxEntries
	}
	c, err := NewFromSettings(settings, WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)
	dc := c.(*documentCache)
	t.Cleanup(func() {
		ctx := context.Background()
		if mc := dc.conn.(*mongoConnector).cached(); mc != nil {
			_ = mc.coll.Drop(ctx)
		}
		_ = c.Close(ctx)
	})
	return dc
}

func TestMongoTTLCollection(t *testing.T) {
	ctx := context.Background()
	c := newMongoTestCache(t, TTLMode{Timeout: time.Minute})

	ok, err := c.Set(ctx, "k", map[string]any{"n": 1}, DefaultTimeout)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Add(ctx, "k", "other", DefaultTimeout)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Set(ctx, "counter", 41, DefaultTimeout)
	require.NoError(t, err)
	n, err := c.Incr(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	_, err = c.Incr(ctx, "absent", 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = c.Incr(ctx, "k", 1)
	assert.True(t, errors.Is(err, ErrNotNumeric))

	_, err = c.Set(ctx, "blob", uint64(1<<63), DefaultTimeout)
	require.NoError(t, err)
	found, big, err := Get[uint64](ctx, c, "blob")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(1<<63), big)

	vals, err := c.GetMany(ctx, []string{"k", "missing", "counter"})
	require.NoError(t, err)
	assert.Len(t, vals, 2)

	remaining, ok, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, time.Minute.Seconds(), remaining.Seconds(), 5)

	ok, err = c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mc := c.conn.(*mongoConnector).cached()
	require.NotNil(t, mc)
	assert.False(t, mc.Capped())
	count, err := mc.coll.CountDocuments(ctx, keyFilter(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ok, err = c.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	count, err = mc.coll.CountDocuments(ctx, keyFilter(nil))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMongoCappedCollection(t *testing.T) {
	ctx := context.Background()
	c := newMongoTestCache(t, CappedMode{MaxEntries: 50})

	for i := range 3 {
		_, err := c.Set(ctx, fmt.Sprintf("k%d", i), i, time.Hour)
		require.NoError(t, err)
	}
	mc := c.conn.(*mongoConnector).cached()
	require.NotNil(t, mc)
	assert.True(t, mc.Capped())

	ok, err := c.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	has, err := c.HasKey(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, has)

	count, err := mc.coll.CountDocuments(ctx, keyFilter(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// entries without an expiry retire in place too
	_, err = c.Set(ctx, "forever", "v", DefaultTimeout)
	require.NoError(t, err)
	ok, err = c.Delete(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
	has, err = c.HasKey(ctx, "forever")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = c.Set(ctx, "grow", "short", DefaultTimeout)
	require.NoError(t, err)
	ok, err = c.Set(ctx, "grow", "a considerably longer value", DefaultTimeout)
	require.NoError(t, err)
	assert.True(t, ok)
	found, val, err := Get[string](ctx, c, "grow")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a considerably longer value", val)

	ok, err = c.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	count, err = mc.coll.CountDocuments(ctx, keyFilter(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}
