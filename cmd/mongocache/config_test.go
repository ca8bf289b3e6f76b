package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/go-mongocache/cache"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsFromFlags(t *testing.T) {
	v := viper.New()
	v.Set("location", "mongodb://h1:27017")
	v.Set("timeout", "90s")
	v.Set("database", "appdb")
	v.Set("entry-size", "2Ki")
	v.Set("key-version", 3)

	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "mongodb://h1:27017", s.Location)
	assert.Equal(t, "90s", s.Timeout)
	assert.Equal(t, 3, s.Version)
	assert.Equal(t, "appdb", s.Options["DATABASE"])
	assert.Equal(t, "2Ki", s.Options["ENTRY_SIZE"])

	cfg, err := s.Resolve()
	require.NoError(t, err)
	assert.Equal(t, cache.TTLMode{Timeout: 90 * time.Second}, cfg.Mode)
	assert.Equal(t, int64(2048), cfg.EntrySize)
}

func TestLoadSettingsFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("location: h1\nmax_entries: 100\nkey_prefix: file\n"), 0o600))

	v := viper.New()
	v.Set("config", path)
	v.Set("key-prefix", "flag")

	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "h1", s.Location)
	assert.Equal(t, int64(100), s.MaxEntries)
	assert.Equal(t, "flag", s.KeyPrefix)
	assert.Nil(t, s.Options)

	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = loadSettings(v)
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 42, parseValue("42", false))
	assert.Equal(t, true, parseValue("true", false))
	assert.Equal(t, "hello world", parseValue("hello world", false))
	assert.Equal(t, map[string]any{"a": 1}, parseValue("{a: 1}", false))
	assert.Equal(t, "42", parseValue("42", true))
	assert.Equal(t, "", parseValue("", false))
	assert.Equal(t, "{unclosed", parseValue("{unclosed", false))
}

func TestParseExpiry(t *testing.T) {
	d, err := parseExpiry("")
	require.NoError(t, err)
	assert.Equal(t, cache.DefaultTimeout, d)

	d, err = parseExpiry("never")
	require.NoError(t, err)
	assert.Equal(t, cache.NoExpiry, d)

	d, err = parseExpiry("1h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = parseExpiry("30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = parseExpiry("later")
	assert.Error(t, err)
}
