package cache

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// liveFilter matches entries that never expire or expire after now.
func liveFilter(now time.Time) bson.E {
	return bson.E{Key: "$or", Value: bson.A{
		bson.D{{Key: fieldExpires, Value: bson.D{{Key: "$gt", Value: now}}}},
		bson.D{{Key: fieldExpires, Value: nil}},
	}}
}

// keyFilter matches one key directly and several with $in. A nil slice
// matches every document.
func keyFilter(keys []string) bson.D {
	switch {
	case keys == nil:
		return bson.D{}
	case len(keys) == 1:
		return bson.D{{Key: fieldKey, Value: keys[0]}}
	default:
		return bson.D{{Key: fieldKey, Value: bson.D{{Key: "$in", Value: keys}}}}
	}
}

// liveKeyFilter combines keyFilter with the liveness filter.
func liveKeyFilter(keys []string, now time.Time) bson.D {
	return append(keyFilter(keys), liveFilter(now))
}

// incrementFilter matches a live entry holding an integer or an integral
// double.
func incrementFilter(key string, now time.Time) bson.D {
	return append(liveKeyFilter([]string{key}, now),
		bson.E{Key: fieldBlob, Value: bson.D{{Key: "$exists", Value: false}}},
		bson.E{Key: fieldValue, Value: bson.D{{Key: "$type", Value: bson.A{"int", "long", "double"}}}},
		bson.E{Key: "$expr", Value: bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$" + fieldValue}}, "double"}}}},
			{Key: "then", Value: bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$trunc", Value: "$" + fieldValue}}, "$" + fieldValue}}}},
			{Key: "else", Value: true},
		}}}},
	)
}

func upsertUpdate(val Value, expires *time.Time, now time.Time) bson.D {
	set, unset := val.fields()
	return bson.D{
		{Key: "$set", Value: bson.D{
			set,
			{Key: fieldExpires, Value: expires},
			{Key: fieldLastChange, Value: now},
		}},
		{Key: "$unset", Value: bson.D{{Key: unset, Value: ""}}},
	}
}

// incrementUpdate sends small deltas as int32 so int32 values keep their
// type and size.
func incrementUpdate(delta int64, now time.Time) bson.D {
	var inc any = delta
	if delta >= math.MinInt32 && delta <= math.MaxInt32 {
		inc = int32(delta)
	}
	return bson.D{
		{Key: "$inc", Value: bson.D{{Key: fieldValue, Value: inc}}},
		{Key: "$set", Value: bson.D{{Key: fieldLastChange, Value: now}}},
	}
}

func expireUpdate(expires *time.Time) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{{Key: fieldExpires, Value: expires}}}}
}
