package cache

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// MaxKeyLength is the longest normalized key accepted by ValidateKey.
const MaxKeyLength = 250

// KeyFunc builds a storage key from a logical key, the configured prefix
// and a version.
type KeyFunc func(key, prefix string, version int) string

// DefaultKeyFunc joins prefix, version and key with colons.
func DefaultKeyFunc(key, prefix string, version int) string {
	return prefix + ":" + strconv.Itoa(version) + ":" + key
}

// '$' and '.' have operator and path meaning in documents and queries.
var keyEscaper = strings.NewReplacer("$", "_", ".", "_")

// NormalizeKey runs fn and escapes the result for use as a document value
// in lookups.
func NormalizeKey(fn KeyFunc, key, prefix string, version int) string {
	if fn == nil {
		fn = DefaultKeyFunc
	}
	return keyEscaper.Replace(fn(key, prefix, version))
}

// ValidateKey rejects keys that are too long or contain control characters
// or whitespace.
func ValidateKey(key string) error {
	if len(key) > MaxKeyLength {
		return errors.Mark(errors.Newf("key %q is longer than %d characters", key, MaxKeyLength), ErrInvalidKey)
	}
	for i := 0; i < len(key); i++ {
		if c := key[i]; c < 33 || c == 127 {
			return errors.Mark(errors.Newf("key %q contains a control character or whitespace", key), ErrInvalidKey)
		}
	}
	return nil
}
