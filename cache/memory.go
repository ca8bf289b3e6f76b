package cache

import (
	"context"
	"encoding/base64"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultExpiryCheck is how often the in-process store reaps expired
// entries in TTL mode.
const DefaultExpiryCheck = time.Minute

type memoryEntry struct {
	key        string
	val        Value
	expires    *time.Time
	lastChange time.Time
}

func (e *memoryEntry) live(now time.Time) bool {
	return e.expires == nil || e.expires.After(now)
}

func (e *memoryEntry) document() document {
	doc := document{Key: e.key, Expires: e.expires, LastChange: e.lastChange}
	if e.val.IsBlob() {
		doc.Blob = base64.StdEncoding.EncodeToString(e.val.blob)
	} else {
		doc.Value = e.val.native
	}
	return doc
}

// size is the BSON size of the stored document.
func (e *memoryEntry) size() int {
	raw, err := bson.Marshal(e.document())
	if err != nil {
		return -1
	}
	return len(raw)
}

// memoryCollection is an in-process document store with the semantics the
// engine relies on from MongoDB: upsert by key, liveness filtering, $inc
// type rules and, when capped, insertion-order eviction, no physical
// deletes and no updates that resize a document.
type memoryCollection struct {
	mutex      sync.Mutex
	entries    map[string]*memoryEntry
	order      []*memoryEntry
	maxEntries int64
}

var _ collection = (*memoryCollection)(nil)

func newMemoryCollection(mode Mode) *memoryCollection {
	c := &memoryCollection{entries: make(map[string]*memoryEntry)}
	if m, ok := mode.(CappedMode); ok {
		c.maxEntries = m.MaxEntries
	}
	return c
}

func (c *memoryCollection) Capped() bool {
	return c.maxEntries > 0
}

// Len is the number of stored documents, live or not.
func (c *memoryCollection) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.Capped() {
		return len(c.order)
	}
	return len(c.entries)
}

func (c *memoryCollection) Find(_ context.Context, keys []string, now time.Time) ([]document, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var docs []document
	if keys == nil {
		for _, e := range c.entries {
			if e.live(now) {
				docs = append(docs, e.document())
			}
		}
		return docs, nil
	}
	for _, key := range keys {
		if e, ok := c.entries[key]; ok && e.live(now) {
			docs = append(docs, e.document())
		}
	}
	return docs, nil
}

func (c *memoryCollection) Exists(_ context.Context, key string, now time.Time) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.entries[key]
	return ok && e.live(now), nil
}

// update applies fn to e, refusing the change when it resizes a capped
// document.
func (c *memoryCollection) update(e *memoryEntry, fn func(e *memoryEntry)) error {
	if !c.Capped() {
		fn(e)
		return nil
	}
	next := *e
	fn(&next)
	if before, after := e.size(), next.size(); before != after {
		err := errors.Newf("cannot change the size of a document in a capped collection: %d != %d", before, after)
		return errors.Mark(errors.Mark(err, errSizeChange), errOperation)
	}
	*e = next
	return nil
}

func (c *memoryCollection) Upsert(_ context.Context, key string, val Value, expires *time.Time, now time.Time) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	// a capped upsert only matches the live document; a retired one stays
	// in place and a new document is inserted
	if e, ok := c.entries[key]; ok && (!c.Capped() || e.live(now)) {
		return c.update(e, func(e *memoryEntry) {
			e.val = val
			e.expires = expires
			e.lastChange = now
		})
	}
	e := &memoryEntry{key: key, val: val, expires: expires, lastChange: now}
	if c.Capped() {
		if int64(len(c.order)) >= c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			if c.entries[oldest.key] == oldest {
				delete(c.entries, oldest.key)
			}
		}
		c.order = append(c.order, e)
	}
	c.entries[key] = e
	return nil
}

// Increment follows the $inc rules of the store: int32 values stay int32
// until they overflow, int64 stays int64 and integral doubles stay doubles.
// Other values do not match.
func (c *memoryCollection) Increment(_ context.Context, key string, delta int64, now time.Time) (*document, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.live(now) || !e.val.incrementable() {
		return nil, nil
	}
	var next any
	switch e.val.native.Type {
	case bson.TypeInt32:
		i, _ := e.val.native.Int32OK()
		sum := int64(i) + delta
		if sum >= math.MinInt32 && sum <= math.MaxInt32 && delta >= math.MinInt32 && delta <= math.MaxInt32 {
			next = int32(sum)
		} else {
			next = sum
		}
	case bson.TypeInt64:
		n, _ := e.val.native.Int64OK()
		next = n + delta
	default:
		f, _ := e.val.native.DoubleOK()
		next = f + float64(delta)
	}
	val, err := Encode(next)
	if err != nil {
		return nil, err
	}
	err = c.update(e, func(e *memoryEntry) {
		e.val = val
		e.lastChange = now
	})
	if err != nil {
		return nil, err
	}
	doc := e.document()
	return &doc, nil
}

func (c *memoryCollection) Expire(_ context.Context, keys []string, expires *time.Time, now time.Time) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var matched []*memoryEntry
	if keys == nil {
		for _, e := range c.entries {
			if e.live(now) {
				matched = append(matched, e)
			}
		}
	} else {
		for _, key := range keys {
			if e, ok := c.entries[key]; ok && e.live(now) {
				matched = append(matched, e)
			}
		}
	}
	for i, e := range matched {
		if err := c.update(e, func(e *memoryEntry) { e.expires = expires }); err != nil {
			return int64(i), err
		}
	}
	return int64(len(matched)), nil
}

func (c *memoryCollection) Remove(_ context.Context, keys []string) (int64, error) {
	if c.Capped() {
		return 0, errors.Mark(errors.New("cannot remove from a capped collection"), errOperation)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if keys == nil {
		n := int64(len(c.entries))
		c.entries = make(map[string]*memoryEntry)
		return n, nil
	}
	var removed int64
	for _, key := range keys {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// reap physically removes expired entries, like the TTL index monitor.
func (c *memoryCollection) reap(now time.Time) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var n int
	for key, e := range c.entries {
		if !e.live(now) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// memoryConnector owns a memoryCollection and, in TTL mode, the goroutine
// reaping it.
type memoryConnector struct {
	ctx       context.Context
	cancel    context.CancelFunc
	coll      *memoryCollection
	waitGroup sync.WaitGroup
	once      sync.Once
}

var _ connector = (*memoryConnector)(nil)

func newMemoryConnector(parent context.Context, mode Mode, now func() time.Time, expiryCheck time.Duration) *memoryConnector {
	ctx, cancel := context.WithCancel(parent)
	c := &memoryConnector{
		ctx:    ctx,
		cancel: cancel,
		coll:   newMemoryCollection(mode),
	}
	if _, ok := mode.(TTLMode); ok && expiryCheck > 0 {
		c.waitGroup.Add(1)
		go c.run(now, expiryCheck)
	}
	return c
}

func (c *memoryConnector) Open(context.Context) (collection, error) {
	return c.coll, nil
}

func (c *memoryConnector) Close(context.Context) error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *memoryConnector) run(now func() time.Time, every time.Duration) {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.coll.reap(now())
		}
	}
}
