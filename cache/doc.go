// Package cache provides a key/value cache persisted in a MongoDB
// collection, with type-safe generic helpers.
//
// # Modes
//
// A cache runs in exactly one of two modes, chosen at construction:
//
//   - [TTLMode] gives every entry an absolute expiry (now + timeout). The
//     collection carries a TTL index on "expires" with expireAfterSeconds=0,
//     so the server removes dead documents on its own schedule. Size is
//     unbounded. Delete and Clear remove documents.
//
//   - [CappedMode] creates a capped collection sized from MaxEntries and
//     the configured entry size. The server discards the oldest documents
//     when the cap is reached. Capped collections refuse deletes, so Delete
//     and Clear stamp "expires" with the current time instead; the document
//     keeps its slot until the cap overwrites it. There is no compaction.
//
// Reads always apply the liveness filter (expires is null or later than
// now), so an expired entry is a miss even before the server reaps it.
//
// # Construction
//
// [New] validates a [Config] and returns immediately. The client is created
// and the collection provisioned on the first operation; an existing
// collection is used as is, whatever its shape. [NewFromSettings] resolves a
// [Settings] block (location string, timeout, max entries and an options map)
// first:
//
//	c, err := cache.NewFromSettings(cache.Settings{
//	    Location: "mongodb://db1:27017,db2:27017/?replicaSet=rs0",
//	    Timeout:  "300",
//	    Options:  map[string]any{"DATABASE": "app", "COLLECTION": "sessions"},
//	})
//
// [NewInMemory] runs the same engine over an in-process store for tests and
// local development.
//
// # Values
//
// Values BSON can represent are stored natively in the "value" field. Other
// values (uint64 above MaxInt64, for instance) are msgpack encoded and stored
// as base64 text in the "blob" field. [Value] carries either form and
// [Value.Decode] resolves it. [Get], [GetDefault] and [GetMany] decode into a
// type parameter:
//
//	found, user, err := cache.Get[User](ctx, c, "user:123")
//
// [Exec] is a cache-aside helper combining lookup and population:
//
//	found, user, err := cache.Exec(ctx, cache.CacheConfig{Key: "user:123"}, c,
//	    func(ctx context.Context) (User, bool, error) {
//	        user, err := queries.GetUser(ctx, id)
//	        if errors.Is(err, sql.ErrNoRows) {
//	            return User{}, false, nil
//	        }
//	        return user, true, err
//	    },
//	)
//
// # Errors
//
// Construction fails with [ErrConfiguration]. Invalid keys fail with
// [ErrInvalidKey]. Connectivity errors are retried (Config.Retries attempts);
// once the budget is spent the operation fails with [ErrConnectivity].
// Other store failures and execution timeouts make write operations return
// false without an error and are logged at warn level. Read errors are
// returned. [Cache.Incr] returns [ErrNotFound] or [ErrNotNumeric].
//
// # Concurrency
//
// A Cache is safe for concurrent use. Set and Incr are single atomic
// document operations. Add is a check followed by a write, so two callers
// adding the same absent key can both succeed.
package cache
