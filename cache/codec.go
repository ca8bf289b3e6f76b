package cache

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// document field names
const (
	fieldKey        = "key"
	fieldValue      = "value"
	fieldBlob       = "blob"
	fieldExpires    = "expires"
	fieldLastChange = "last_change"
)

type valueKind uint8

const (
	kindNone valueKind = iota
	kindNative
	kindBlob
)

// Value is a cached value in one of its two stored representations: a
// native BSON value, or a msgpack blob for values BSON cannot represent.
type Value struct {
	kind   valueKind
	native bson.RawValue
	blob   []byte
}

// nativeRegistry decodes documents and arrays held in interface values as
// map[string]any and []any instead of bson.D and bson.A.
var nativeRegistry = func() *bson.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeMapEntry(bson.TypeEmbeddedDocument, reflect.TypeOf(map[string]any{}))
	reg.RegisterTypeMapEntry(bson.TypeArray, reflect.TypeOf([]any{}))
	return reg
}()

// Encode stores v natively when BSON accepts it without loss and falls back
// to msgpack otherwise. BSON dates keep milliseconds, so values holding a
// finer time.Time are stored as blobs.
func Encode(v any) (Value, error) {
	t, data, err := bson.MarshalValue(v)
	if err == nil && !truncatesTime(reflect.ValueOf(v), 0) {
		return Value{kind: kindNative, native: bson.RawValue{Type: t, Value: data}}, nil
	}
	blob, merr := msgpack.Marshal(v)
	if merr != nil {
		return Value{}, errors.Wrapf(merr, "cache: cannot encode value of type %T", v)
	}
	return Value{kind: kindBlob, blob: blob}, nil
}

// IsZero reports whether the value holds nothing (a miss).
func (v Value) IsZero() bool {
	return v.kind == kindNone
}

// IsBlob reports whether the value is stored as a msgpack blob.
func (v Value) IsBlob() bool {
	return v.kind == kindBlob
}

// Decode unmarshals the value into out, which must be a pointer.
func (v Value) Decode(out any) error {
	switch v.kind {
	case kindNative:
		if err := v.native.UnmarshalWithRegistry(nativeRegistry, out); err != nil {
			return errors.Wrapf(err, "cache: cannot decode %s value into %T", v.native.Type, out)
		}
		return nil
	case kindBlob:
		if err := msgpack.Unmarshal(v.blob, out); err != nil {
			return errors.Wrapf(err, "cache: cannot decode blob into %T", out)
		}
		return nil
	default:
		return errors.New("cache: empty value")
	}
}

// Interface decodes the value into its natural Go form: int32, int64,
// float64, string, map[string]any, []any and so on for native values and
// msgpack defaults for blobs.
func (v Value) Interface() (any, error) {
	var out any
	if err := v.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

var timeType = reflect.TypeOf(time.Time{})

// maxInspectDepth bounds the walk of truncatesTime.
const maxInspectDepth = 32

// truncatesTime reports whether v holds a time.Time with sub-millisecond
// precision in any place BSON would encode.
func truncatesTime(v reflect.Value, depth int) bool {
	if !v.IsValid() || depth > maxInspectDepth {
		return false
	}
	if v.Type() == timeType {
		return v.CanInterface() && v.Interface().(time.Time).Nanosecond()%int(time.Millisecond) != 0
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return !v.IsNil() && truncatesTime(v.Elem(), depth+1)
	case reflect.Struct:
		for i := range v.NumField() {
			if v.Type().Field(i).IsExported() && truncatesTime(v.Field(i), depth+1) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return false
		}
		for i := range v.Len() {
			if truncatesTime(v.Index(i), depth+1) {
				return true
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if truncatesTime(iter.Value(), depth+1) {
				return true
			}
		}
	}
	return false
}

// numeric returns the native value as an int64 when it is a BSON integer
// or an integral double.
func (v Value) numeric() (int64, bool) {
	if v.kind != kindNative {
		return 0, false
	}
	switch v.native.Type {
	case bson.TypeInt32:
		i, ok := v.native.Int32OK()
		return int64(i), ok
	case bson.TypeInt64:
		return v.native.Int64OK()
	case bson.TypeDouble:
		f, ok := v.native.DoubleOK()
		if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// incrementable reports whether Incr may apply to the value.
func (v Value) incrementable() bool {
	_, ok := v.numeric()
	return ok
}

// document is the persisted shape of a cache entry. Exactly one of Value
// and Blob is present.
type document struct {
	Key        string        `bson:"key"`
	Value      bson.RawValue `bson:"value,omitempty"`
	Blob       string        `bson:"blob,omitempty"`
	Expires    *time.Time    `bson:"expires"`
	LastChange time.Time     `bson:"last_change"`
}

func (d document) value() (Value, error) {
	if d.Blob != "" {
		blob, err := base64.StdEncoding.DecodeString(d.Blob)
		if err != nil {
			return Value{}, errors.Wrapf(err, "cache: corrupt blob for %q", d.Key)
		}
		return Value{kind: kindBlob, blob: blob}, nil
	}
	if d.Value.Type != 0 {
		return Value{kind: kindNative, native: d.Value}, nil
	}
	return Value{}, errors.Newf("cache: document %q carries no value", d.Key)
}

// fields returns the field to set and the representation field to unset.
func (v Value) fields() (bson.E, string) {
	if v.kind == kindBlob {
		return bson.E{Key: fieldBlob, Value: base64.StdEncoding.EncodeToString(v.blob)}, fieldValue
	}
	return bson.E{Key: fieldValue, Value: v.native}, fieldBlob
}

// String renders the value for display: extended JSON for native values,
// the decoded form for blobs.
func (v Value) String() string {
	switch v.kind {
	case kindNative:
		return v.native.String()
	case kindBlob:
		out, err := v.Interface()
		if err != nil {
			return "<invalid blob>"
		}
		return fmt.Sprint(out)
	default:
		return "<nil>"
	}
}
