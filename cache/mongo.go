package cache

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/go-mongocache/logger"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/singleflight"
)

// mongoConnector creates the client lazily and provisions the collection
// on the first Open. A failed open is not remembered.
type mongoConnector struct {
	cfg    Config
	log    logger.Logger
	group  singleflight.Group
	mu     sync.Mutex
	client *mongo.Client
	coll   *mongoCollection
}

var _ connector = (*mongoConnector)(nil)

func newMongoConnector(cfg Config, log logger.Logger) *mongoConnector {
	return &mongoConnector{cfg: cfg, log: log}
}

func (m *mongoConnector) cached() *mongoCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coll
}

func (m *mongoConnector) Open(ctx context.Context) (collection, error) {
	if c := m.cached(); c != nil {
		return c, nil
	}
	v, err, _ := m.group.Do("open", func() (any, error) {
		if c := m.cached(); c != nil {
			return c, nil
		}
		return m.open(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*mongoCollection), nil
}

func (m *mongoConnector) open(ctx context.Context) (*mongoCollection, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil {
		opts := options.Client().
			ApplyURI(m.cfg.URI()).
			SetLoggerOptions(options.Logger().
				SetSink(logger.ToMongoSink(m.log)).
				SetComponentLevel(options.LogComponentAll, options.LogLevelInfo))
		c, err := mongo.Connect(opts)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "cannot create mongodb client"), ErrConfiguration)
		}
		client = c
		m.mu.Lock()
		m.client = c
		m.mu.Unlock()
		m.log.Debug("connecting to %v", m.cfg.Hosts)
	}

	db := client.Database(m.cfg.Database)
	capped, err := provision(ctx, db, m.cfg, m.log)
	if err != nil {
		return nil, err
	}
	coll := &mongoCollection{coll: db.Collection(m.cfg.Collection), capped: capped}

	m.mu.Lock()
	m.coll = coll
	m.mu.Unlock()
	return coll, nil
}

// Close disconnects the client if one was created.
func (m *mongoConnector) Close(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.coll = nil
	m.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "cannot disconnect from mongodb")
	}
	return nil
}

// mongoCollection runs the engine's store operations against MongoDB.
type mongoCollection struct {
	coll   *mongo.Collection
	capped bool
}

var _ collection = (*mongoCollection)(nil)

func (c *mongoCollection) Capped() bool {
	return c.capped
}

func (c *mongoCollection) Find(ctx context.Context, keys []string, now time.Time) ([]document, error) {
	cur, err := c.coll.Find(ctx, liveKeyFilter(keys, now))
	if err != nil {
		return nil, classify(err)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	return docs, nil
}

func (c *mongoCollection) Exists(ctx context.Context, key string, now time.Time) (bool, error) {
	n, err := c.coll.CountDocuments(ctx, liveKeyFilter([]string{key}, now), options.Count().SetLimit(1))
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// Upsert matches the live document in a capped collection so that a
// retired one is left in place and a new document inserted.
func (c *mongoCollection) Upsert(ctx context.Context, key string, val Value, expires *time.Time, now time.Time) error {
	filter := keyFilter([]string{key})
	if c.capped {
		filter = liveKeyFilter([]string{key}, now)
	}
	_, err := c.coll.UpdateOne(ctx, filter,
		upsertUpdate(val, expires, now),
		options.UpdateOne().SetUpsert(true))
	return classify(err)
}

func (c *mongoCollection) Increment(ctx context.Context, key string, delta int64, now time.Time) (*document, error) {
	res := c.coll.FindOneAndUpdate(ctx,
		incrementFilter(key, now),
		incrementUpdate(delta, now),
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	var doc document
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &doc, nil
}

func (c *mongoCollection) Expire(ctx context.Context, keys []string, expires *time.Time, now time.Time) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, liveKeyFilter(keys, now), expireUpdate(expires))
	if err != nil {
		return 0, classify(err)
	}
	return res.MatchedCount, nil
}

func (c *mongoCollection) Remove(ctx context.Context, keys []string) (int64, error) {
	var (
		res *mongo.DeleteResult
		err error
	)
	if len(keys) == 1 {
		res, err = c.coll.DeleteOne(ctx, keyFilter(keys))
	} else {
		res, err = c.coll.DeleteMany(ctx, keyFilter(keys))
	}
	if err != nil {
		return 0, classify(err)
	}
	return res.DeletedCount, nil
}
