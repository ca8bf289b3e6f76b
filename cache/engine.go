package cache

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/agentuity/go-mongocache/logger"
	"github.com/agentuity/go-mongocache/resilience"
	"github.com/cockroachdb/errors"
)

// documentCache implements Cache on top of a collection.
type documentCache struct {
	cfg     Config
	conn    connector
	opts    cacheOptions
	log     logger.Logger
	metrics *cacheMetrics
	retry   resilience.RetryConfig
	version int
}

var _ Cache = (*documentCache)(nil)

// New returns a Cache backed by the MongoDB collection described by cfg.
// No connection is made until the first operation.
func New(cfg Config, opts ...Option) (Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return newDocumentCache(cfg, newMongoConnector(cfg, o.log), o), nil
}

// NewFromSettings resolves settings into a Config and calls New.
func NewFromSettings(settings Settings, opts ...Option) (Cache, error) {
	cfg, err := settings.Resolve()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// NewInMemory returns a Cache running the same engine over an in-process
// store. In TTL mode expired entries are reaped every WithExpiryCheck
// interval until the cache is closed or ctx is cancelled.
func NewInMemory(ctx context.Context, mode Mode, opts ...Option) (Cache, error) {
	cfg := Config{
		Hosts:      []string{"memory"},
		Database:   "memory",
		Collection: DefaultCollection,
		Mode:       mode,
		EntrySize:  DefaultEntrySize,
		Version:    DefaultVersion,
		Retries:    1,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return newDocumentCache(cfg, newMemoryConnector(ctx, mode, o.now, o.expiryCheck), o), nil
}

func newDocumentCache(cfg Config, conn connector, opts cacheOptions) *documentCache {
	c := &documentCache{
		cfg:     cfg,
		conn:    conn,
		opts:    opts,
		log:     opts.log.With(map[string]interface{}{"collection": cfg.Collection}),
		metrics: newCacheMetrics(cfg.Collection),
		version: cfg.Version,
	}
	c.retry = c.retryPolicy()
	return c
}

func (c *documentCache) retryPolicy() resilience.RetryConfig {
	policy := resilience.DefaultRetryConfig()
	policy.MaxRetries = c.cfg.Retries - 1
	policy.InitialBackoff = 50 * time.Millisecond
	policy.MaxBackoff = time.Second
	policy.RetryableErrors = isTransient
	if c.opts.retry != nil {
		policy = *c.opts.retry
		if policy.RetryableErrors == nil {
			policy.RetryableErrors = isTransient
		}
	}
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		c.metrics.retry()
		c.log.Warn("lost connection to mongodb, retrying (attempt %d of %d): %v", attempt+1, policy.MaxRetries+1, err)
		if next != nil {
			next(attempt, err)
		}
	}
	return policy
}

// now is the current time at the store's millisecond precision.
func (c *documentCache) now() time.Time {
	return c.opts.now().UTC().Truncate(time.Millisecond)
}

// expiry resolves a timeout argument into an absolute expiry; nil means
// the entry never expires.
func (c *documentCache) expiry(timeout time.Duration, now time.Time) *time.Time {
	if timeout == DefaultTimeout {
		m, ok := c.cfg.Mode.(TTLMode)
		if !ok {
			return nil
		}
		timeout = m.Timeout
	}
	if timeout < 0 {
		return nil
	}
	t := now.Add(timeout)
	return &t
}

// neverExpires stands in for a missing expiry in capped collections, where
// turning a null expiry into a date would resize the document.
var neverExpires = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// expiryIn resolves a timeout for coll. Capped collections store
// neverExpires instead of null.
func (c *documentCache) expiryIn(coll collection, timeout time.Duration, now time.Time) *time.Time {
	t := c.expiry(timeout, now)
	if t == nil && coll.Capped() {
		never := neverExpires
		return &never
	}
	return t
}

// put upserts val under key. A capped document cannot change size in
// place, so a value that does not fit retires the live document and is
// inserted as a new one.
func (c *documentCache) put(ctx context.Context, coll collection, key string, val Value, timeout time.Duration, now time.Time) error {
	expires := c.expiryIn(coll, timeout, now)
	err := coll.Upsert(ctx, key, val, expires, now)
	if !coll.Capped() || !errors.Is(err, errSizeChange) {
		return err
	}
	if _, err := coll.Expire(ctx, []string{key}, &now, now); err != nil {
		return err
	}
	return coll.Upsert(ctx, key, val, expires, now)
}

func (c *documentCache) MakeKey(key string, version int) string {
	return NormalizeKey(c.opts.keyFunc, key, c.cfg.KeyPrefix, version)
}

func (c *documentCache) storageKey(key string) (string, error) {
	k := c.MakeKey(key, c.version)
	if err := ValidateKey(k); err != nil {
		return "", err
	}
	return k, nil
}

func (c *documentCache) Versioned(version int) Cache {
	v := *c
	v.version = version
	return &v
}

func (c *documentCache) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.queryTimeout)
}

// run executes fn against the collection, reopening and retrying on
// transient connectivity errors.
func (c *documentCache) run(ctx context.Context, fn func(ctx context.Context, coll collection) error) error {
	var attempts int
	err := resilience.Retry(ctx, c.retry, func() error {
		attempts++
		qctx, cancel := c.queryContext(ctx)
		defer cancel()
		coll, err := c.conn.Open(qctx)
		if err != nil {
			return err
		}
		return fn(qctx, coll)
	})
	if err != nil && ctx.Err() == nil && errors.Is(err, resilience.ErrMaxRetriesExceeded) {
		return errors.Mark(errors.Wrapf(err, "could not reconnect to mongodb after %d attempts", attempts), ErrConnectivity)
	}
	return err
}

// write runs a write operation. Store operation failures and execution
// timeouts become a false result instead of an error.
func (c *documentCache) write(ctx context.Context, op string, fn func(ctx context.Context, coll collection) (bool, error)) (bool, error) {
	var ok bool
	err := c.run(ctx, func(ctx context.Context, coll collection) error {
		var err error
		ok, err = fn(ctx, coll)
		return err
	})
	switch {
	case err == nil:
		if ok {
			c.metrics.operation(op, resultOK)
		} else {
			c.metrics.operation(op, resultMiss)
		}
		return ok, nil
	case ctx.Err() == nil && isOperationFailure(err):
		c.metrics.operation(op, resultFailed)
		c.log.Warn("%s failed: %v", op, err)
		return false, nil
	default:
		c.metrics.operation(op, resultError)
		return false, err
	}
}

func (c *documentCache) read(ctx context.Context, op string, fn func(ctx context.Context, coll collection) (bool, error)) (bool, error) {
	var hit bool
	err := c.run(ctx, func(ctx context.Context, coll collection) error {
		var err error
		hit, err = fn(ctx, coll)
		return err
	})
	switch {
	case err != nil:
		c.metrics.operation(op, resultError)
	case hit:
		c.metrics.operation(op, resultHit)
	default:
		c.metrics.operation(op, resultMiss)
	}
	return hit, err
}

func (c *documentCache) Add(ctx context.Context, key string, val any, timeout time.Duration) (ok bool, err error) {
	ctx, span := startSpan(ctx, "Add", key)
	defer func() { endSpan(span, err) }()
	k, err := c.storageKey(key)
	if err != nil {
		return false, err
	}
	v, err := Encode(val)
	if err != nil {
		return false, err
	}
	return c.write(ctx, "add", func(ctx context.Context, coll collection) (bool, error) {
		now := c.now()
		exists, err := coll.Exists(ctx, k, now)
		if err != nil || exists {
			return false, err
		}
		return true, c.put(ctx, coll, k, v, timeout, now)
	})
}

func (c *documentCache) Set(ctx context.Context, key string, val any, timeout time.Duration) (ok bool, err error) {
	ctx, span := startSpan(ctx, "Set", key)
	defer func() { endSpan(span, err) }()
	k, err := c.storageKey(key)
	if err != nil {
		return false, err
	}
	v, err := Encode(val)
	if err != nil {
		return false, err
	}
	return c.write(ctx, "set", func(ctx context.Context, coll collection) (bool, error) {
		now := c.now()
		return true, c.put(ctx, coll, k, v, timeout, now)
	})
}

func (c *documentCache) SetMany(ctx context.Context, values map[string]any, timeout time.Duration) ([]string, error) {
	var failed []string
	for _, key := range slices.Sorted(maps.Keys(values)) {
		ok, err := c.Set(ctx, key, values[key], timeout)
		if err != nil {
			return failed, err
		}
		if !ok {
			failed = append(failed, key)
		}
	}
	return failed, nil
}

func (c *documentCache) Get(ctx context.Context, key string) (found bool, val Value, err error) {
	ctx, span := startSpan(ctx, "Get", key)
	defer func() { endSpan(span, err) }()
	k, err := c.storageKey(key)
	if err != nil {
		return false, Value{}, err
	}
	found, err = c.read(ctx, "get", func(ctx context.Context, coll collection) (bool, error) {
		docs, err := coll.Find(ctx, []string{k}, c.now())
		if err != nil || len(docs) == 0 {
			return false, err
		}
		val, err = docs[0].value()
		return err == nil, err
	})
	if !found {
		return false, Value{}, err
	}
	return true, val, nil
}

func (c *documentCache) GetMany(ctx context.Context, keys []string) (result map[string]Value, err error) {
	ctx, span := startSpan(ctx, "GetMany", strings.Join(keys, ","))
	defer func() { endSpan(span, err) }()
	result = make(map[string]Value, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	logical := make(map[string][]string, len(keys))
	storage := make([]string, 0, len(keys))
	for _, key := range keys {
		k, err := c.storageKey(key)
		if err != nil {
			return nil, err
		}
		if _, seen := logical[k]; !seen {
			storage = append(storage, k)
		}
		logical[k] = append(logical[k], key)
	}
	_, err = c.read(ctx, "get_many", func(ctx context.Context, coll collection) (bool, error) {
		docs, err := coll.Find(ctx, storage, c.now())
		if err != nil {
			return false, err
		}
		for _, doc := range docs {
			val, err := doc.value()
			if err != nil {
				return false, err
			}
			for _, key := range logical[doc.Key] {
				result[key] = val
			}
		}
		return len(docs) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *documentCache) HasKey(ctx context.Context, key string) (found bool, err error) {
	ctx, span := startSpan(ctx, "HasKey", key)
	defer func() { endSpan(span, err) }()
	k, err := c.storageKey(key)
	if err != nil {
		return false, err
	}
	return c.read(ctx, "has_key", func(ctx context.Context, coll collection) (bool, error) {
		return coll.Exists(ctx, k, c.now())
	})
}

// retire removes keys physically, or stamps their expiry with now when the
// collection is capped. A nil keys slice means every document.
func (c *documentCache) retire(ctx context.Context, coll collection, keys []string) (int64, error) {
	if coll.Capped() {
		now := c.now()
		return coll.Expire(ctx, keys, &now, now)
	}
	return coll.Remove(ctx, keys)
}

func (c *documentCache) Delete(ctx context.Context, key string) (ok bool, err error) {
	ctx, span := startSpan(ctx, "Delete", key)
	defer func() { endSpan(span, err) }()
	k, err := c.storageKey(key)
	if err != nil {
		return false, err
	}
	return c.write(ctx, "delete", func(ctx context.Context, coll collection) (bool, error) {
		n, err := c.retire(ctx, coll, []string{k})
		return n > 0, err
	})
}

func (c *documentCache) DeleteMany(ctx context.Context, keys []string) (ok bool, err error) {
	ctx, span := startSpan(ctx, "DeleteMany", strings.Join(keys, ","))
	defer func() { endSpan(span, err) }()
	if len(keys) == 0 {
		return false, nil
	}
	storage := make([]string, 0, len(keys))
	for _, key := range keys {
		k, err := c.storageKey(key)
		if err != nil {
			return false, err
		}
		storage = append(storage, k)
	}
	return c.write(ctx, "delete_many", func(ctx context.Context, coll collection) (bool, error) {
		n, err := c.retire(ctx, coll, storage)
		return n > 0, err
	})
}

func (c *documentCache) Incr(ctx context.Context, key string, delta int64) (n int64, err error) {
	ctx, span := startSpan(ctx, "Incr", key)
	defer func() { endSpan(span, err) }()
	k, err := c.storageKey(key)
	if err != nil {
		return 0, err
	}
	var doc *document
	err = c.run(ctx, func(ctx context.Context, coll collection) error {
		now := c.now()
		d, err := coll.Increment(ctx, k, delta, now)
		if err != nil {
			if errors.Is(err, errTypeMismatch) {
				return errors.Mark(errors.Wrapf(err, "cannot increment %q", key), ErrNotNumeric)
			}
			return err
		}
		if d == nil {
			exists, err := coll.Exists(ctx, k, now)
			if err != nil {
				return err
			}
			if exists {
				return errors.Mark(errors.Newf("cannot increment %q: stored value is not numeric", key), ErrNotNumeric)
			}
			return errors.Mark(errors.Newf("cannot increment %q: key not found", key), ErrNotFound)
		}
		doc = d
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.metrics.operation("incr", resultMiss)
		} else {
			c.metrics.operation("incr", resultError)
		}
		return 0, err
	}
	val, err := doc.value()
	if err != nil {
		return 0, err
	}
	n, ok := val.numeric()
	if !ok {
		return 0, errors.Mark(errors.Newf("cannot increment %q: stored value is not numeric", key), ErrNotNumeric)
	}
	c.metrics.operation("incr", resultOK)
	return n, nil
}

func (c *documentCache) Decr(ctx context.Context, key string, delta int64) (int64, error) {
	return c.Incr(ctx, key, -delta)
}

func (c *documentCache) Touch(ctx context.Context, key string, timeout time.Duration) (ok bool, err error) {
	ctx, span := startSpan(ctx, "Touch", key)
	defer func() { endSpan(span, err) }()
	k, err := c.storageKey(key)
	if err != nil {
		return false, err
	}
	return c.write(ctx, "touch", func(ctx context.Context, coll collection) (bool, error) {
		now := c.now()
		n, err := coll.Expire(ctx, []string{k}, c.expiryIn(coll, timeout, now), now)
		return n > 0, err
	})
}

func (c *documentCache) TTL(ctx context.Context, key string) (remaining time.Duration, ok bool, err error) {
	ctx, span := startSpan(ctx, "TTL", key)
	defer func() { endSpan(span, err) }()
	k, err := c.storageKey(key)
	if err != nil {
		return 0, false, err
	}
	ok, err = c.read(ctx, "ttl", func(ctx context.Context, coll collection) (bool, error) {
		now := c.now()
		docs, err := coll.Find(ctx, []string{k}, now)
		if err != nil || len(docs) == 0 || docs[0].Expires == nil || !docs[0].Expires.Before(neverExpires) {
			return false, err
		}
		remaining = max(docs[0].Expires.Sub(now), 0)
		return true, nil
	})
	if !ok {
		return 0, false, err
	}
	return remaining, true, nil
}

func (c *documentCache) Clear(ctx context.Context) (ok bool, err error) {
	ctx, span := startSpan(ctx, "Clear", "")
	defer func() { endSpan(span, err) }()
	return c.write(ctx, "clear", func(ctx context.Context, coll collection) (bool, error) {
		n, err := c.retire(ctx, coll, nil)
		if err == nil {
			c.log.Debug("cleared %d entries (capped=%v)", n, coll.Capped())
		}
		return err == nil, err
	})
}

func (c *documentCache) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
