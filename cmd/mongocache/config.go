package main

import (
	"strings"
	"time"

	"github.com/agentuity/go-mongocache/cache"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// initConfig loads .env files and maps MONGOCACHE_* variables onto flags.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("mongocache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// optionKeys maps flags onto the structured options understood by
// cache.Settings.Resolve.
var optionKeys = map[string]string{
	"database":   "DATABASE",
	"collection": "COLLECTION",
	"username":   "USERNAME",
	"password":   "PASSWORD",
	"entry-size": "ENTRY_SIZE",
	"retries":    "RETRIES",
}

// loadSettings builds cache settings from the optional --config file,
// overridden by flags and environment.
func loadSettings(v *viper.Viper) (cache.Settings, error) {
	var s cache.Settings
	if path := v.GetString("config"); path != "" {
		var err error
		if s, err = cache.LoadSettings(path); err != nil {
			return s, err
		}
	}
	if loc := v.GetString("location"); loc != "" {
		s.Location = loc
	}
	if timeout := v.GetString("timeout"); timeout != "" {
		s.Timeout = timeout
	}
	if n := v.GetInt64("max-entries"); n > 0 {
		s.MaxEntries = n
	}
	if prefix := v.GetString("key-prefix"); prefix != "" {
		s.KeyPrefix = prefix
	}
	if version := v.GetInt("key-version"); version > 0 {
		s.Version = version
	}
	for flag, option := range optionKeys {
		if val := v.GetString(flag); val != "" {
			if s.Options == nil {
				s.Options = make(map[string]any)
			}
			s.Options[option] = val
		}
	}
	return s, nil
}

// parseValue reads a command line value as YAML so numbers, booleans and
// mappings are stored natively. Unparseable input is kept as a string.
func parseValue(s string, raw bool) any {
	if raw {
		return s
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return s
	}
	return v
}

// parseExpiry turns an --expires flag into a timeout argument.
func parseExpiry(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return cache.DefaultTimeout, nil
	}
	d, err := cache.ParseTimeout(s)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return cache.NoExpiry, nil
	}
	return d, nil
}
