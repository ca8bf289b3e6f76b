package cache

import (
	"time"

	"github.com/agentuity/go-mongocache/logger"
	"github.com/agentuity/go-mongocache/resilience"
)

// DefaultQueryTimeout is the per-attempt timeout applied to every store
// round trip. Prevents indefinite hangs on an unresponsive server.
const DefaultQueryTimeout = 5 * time.Second

// cacheOptions holds the resolved runtime options of a cache.
type cacheOptions struct {
	log          logger.Logger
	now          func() time.Time
	retry        *resilience.RetryConfig
	queryTimeout time.Duration
	expiryCheck  time.Duration
	keyFunc      KeyFunc
}

// Option configures a Cache.
type Option func(*cacheOptions)

func defaultOptions() cacheOptions {
	return cacheOptions{
		now:          time.Now,
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  DefaultExpiryCheck,
		keyFunc:      DefaultKeyFunc,
	}
}

func applyOptions(opts []Option) cacheOptions {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewConsoleLogger().WithPrefix("[mongocache]")
	}
	return o
}

// WithLogger sets the logger used by the cache and the driver log sink.
// Defaults to a console logger at the level from MONGOCACHE_LOG_LEVEL.
func WithLogger(log logger.Logger) Option {
	return func(o *cacheOptions) { o.log = log }
}

// WithClock replaces the clock used to compute and check expiry.
func WithClock(now func() time.Time) Option {
	return func(o *cacheOptions) { o.now = now }
}

// WithRetryConfig overrides the reconnection policy. When the config has no
// RetryableErrors predicate only transient connectivity errors are retried.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(o *cacheOptions) { o.retry = &cfg }
}

// WithQueryTimeout sets the per-attempt timeout. Zero disables it.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *cacheOptions) { o.queryTimeout = d }
}

// WithExpiryCheck sets how often the in-process store reaps expired
// entries. It has no effect on MongoDB, whose TTL monitor does the reaping.
func WithExpiryCheck(d time.Duration) Option {
	return func(o *cacheOptions) { o.expiryCheck = d }
}

// WithKeyFunc replaces the function that builds storage keys.
func WithKeyFunc(fn KeyFunc) Option {
	return func(o *cacheOptions) { o.keyFunc = fn }
}
