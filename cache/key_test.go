package cache

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		prefix   string
		version  int
		expected string
	}{
		{"plain", "user", "", 1, ":1:user"},
		{"prefix", "user", "app", 2, "app:2:user"},
		{"dollar", "$price", "", 1, ":1:_price"},
		{"dots", "a.b.c", "", 1, ":1:a_b_c"},
		{"prefix is escaped too", "k", "my.app", 1, "my_app:1:k"},
		{"mixed", "$a.$b", "x", 3, "x:3:_a__b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeKey(nil, tt.key, tt.prefix, tt.version))
		})
	}
}

func TestNormalizeKeyCustomFunc(t *testing.T) {
	fn := func(key, prefix string, version int) string {
		return strings.ToUpper(key) + ".v" + prefix
	}
	assert.Equal(t, "USER_vp", NormalizeKey(fn, "user", "p", 9))
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey(":1:user"))
	assert.NoError(t, ValidateKey(strings.Repeat("k", MaxKeyLength)))

	for _, key := range []string{
		strings.Repeat("k", MaxKeyLength+1),
		":1:has space",
		":1:tab\t",
		":1:nl\n",
		":1:del\x7f",
	} {
		err := ValidateKey(key)
		assert.Error(t, err, key)
		assert.True(t, errors.Is(err, ErrInvalidKey), key)
	}
}
