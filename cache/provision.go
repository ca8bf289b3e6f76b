package cache

import (
	"context"

	"github.com/agentuity/go-mongocache/logger"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// provisionPlan describes what provision creates for a missing collection.
type provisionPlan struct {
	create  *options.CreateCollectionOptionsBuilder
	indexes []mongo.IndexModel
	capped  bool
}

func planProvision(cfg Config) provisionPlan {
	plan := provisionPlan{create: options.CreateCollection()}
	switch m := cfg.Mode.(type) {
	case CappedMode:
		plan.capped = true
		plan.create.SetCapped(true).
			SetSizeInBytes(m.sizeInBytes(cfg.EntrySize)).
			SetMaxDocuments(m.MaxEntries)
	case TTLMode:
		plan.indexes = append(plan.indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: fieldExpires, Value: -1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		})
	}
	plan.indexes = append(plan.indexes, mongo.IndexModel{
		Keys: bson.D{{Key: fieldKey, Value: 1}, {Key: fieldExpires, Value: 1}},
	})
	return plan
}

// provision makes sure the collection exists and reports whether it is
// capped. An existing collection is used as is.
func provision(ctx context.Context, db *mongo.Database, cfg Config, log logger.Logger) (bool, error) {
	found, capped, err := lookupCollection(ctx, db, cfg.Collection)
	if err != nil {
		return false, err
	}
	if found {
		log.Debug("using existing collection %s.%s (capped=%v)", cfg.Database, cfg.Collection, capped)
		return capped, nil
	}

	plan := planProvision(cfg)
	if cerr := db.CreateCollection(ctx, cfg.Collection, plan.create); cerr != nil {
		if !isNamespaceExists(cerr) {
			return false, errors.Wrapf(classify(cerr), "create collection %s", cfg.Collection)
		}
		// another client created it first
		found, capped, err = lookupCollection(ctx, db, cfg.Collection)
		if err != nil {
			return false, err
		}
		if !found {
			return false, errors.Wrapf(classify(cerr), "create collection %s", cfg.Collection)
		}
		log.Debug("collection %s.%s was created concurrently (capped=%v)", cfg.Database, cfg.Collection, capped)
		return capped, nil
	}
	names, err := db.Collection(cfg.Collection).Indexes().CreateMany(ctx, plan.indexes)
	if err != nil {
		return false, errors.Wrapf(classify(err), "create indexes on %s", cfg.Collection)
	}
	log.Debug("created collection %s.%s mode=%s indexes=%v", cfg.Database, cfg.Collection, cfg.Mode, names)
	return plan.capped, nil
}

// lookupCollection reports whether the named collection exists and whether
// it is capped.
func lookupCollection(ctx context.Context, db *mongo.Database, name string) (found, capped bool, err error) {
	specs, err := db.ListCollectionSpecifications(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, false, errors.Wrap(classify(err), "list collections")
	}
	if len(specs) == 0 {
		return false, false, nil
	}
	capped, _ = specs[0].Options.Lookup("capped").BooleanOK()
	return true, capped, nil
}
