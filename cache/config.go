package cache

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"
	"github.com/xhit/go-str2duration/v2"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	// DefaultHost is used when no location is configured.
	DefaultHost = "localhost:27017"
	// DefaultDatabase is used when neither the location nor the options name one.
	DefaultDatabase = "cache"
	// DefaultCollection is the collection name used when COLLECTION is unset.
	DefaultCollection = "cache"
	// DefaultEntrySize is the byte budget per entry used to size capped collections.
	DefaultEntrySize int64 = 1024
	// DefaultRetries is the number of attempts made before giving up on connectivity.
	DefaultRetries = 3
	// DefaultVersion is the key version used when none is configured.
	DefaultVersion = 1

	// minCappedSize is the smallest capped collection the server allocates.
	minCappedSize int64 = 4096
)

// Mode is the eviction policy of a cache: TTLMode or CappedMode.
type Mode interface {
	fmt.Stringer
	isMode()
	validate() error
}

// TTLMode expires entries Timeout after their last write. The store's TTL
// monitor removes them physically; size is unbounded.
type TTLMode struct {
	Timeout time.Duration
}

func (TTLMode) isMode() {}

func (m TTLMode) String() string {
	return "ttl(" + m.Timeout.String() + ")"
}

func (m TTLMode) validate() error {
	if m.Timeout <= 0 {
		return errors.Mark(errors.Newf("ttl mode requires a positive timeout, got %s", m.Timeout), ErrConfiguration)
	}
	return nil
}

// CappedMode bounds the collection to MaxEntries documents; the oldest
// documents are discarded on overflow and entries never expire by time.
type CappedMode struct {
	MaxEntries int64
}

func (CappedMode) isMode() {}

func (m CappedMode) String() string {
	return "capped(" + strconv.FormatInt(m.MaxEntries, 10) + ")"
}

func (m CappedMode) validate() error {
	if m.MaxEntries <= 0 {
		return errors.Mark(errors.Newf("capped mode requires a positive entry count, got %d", m.MaxEntries), ErrConfiguration)
	}
	return nil
}

// sizeInBytes is the byte cap for the capped collection.
func (m CappedMode) sizeInBytes(entrySize int64) int64 {
	return max(m.MaxEntries*entrySize, minCappedSize)
}

// Config is the consolidated connection and cache configuration.
type Config struct {
	// Scheme is "mongodb" or "mongodb+srv".
	Scheme   string
	Hosts    []string
	Username string
	Password string
	// Database and Collection locate the backing collection.
	Database   string
	Collection string
	// DriverOptions are passed through as connection string options.
	DriverOptions map[string]string
	Mode          Mode
	// EntrySize scales MaxEntries into the capped collection's byte size.
	EntrySize int64
	KeyPrefix string
	Version   int
	// Retries is the number of attempts per operation on connectivity loss.
	Retries int
}

// Validate checks the config. Every failure is marked ErrConfiguration.
func (c Config) Validate() error {
	if c.Mode == nil {
		return errors.Mark(errors.New("configure either a timeout or a max entry count"), ErrConfiguration)
	}
	if err := c.Mode.validate(); err != nil {
		return err
	}
	switch {
	case len(c.Hosts) == 0:
		return errors.Mark(errors.New("no hosts configured"), ErrConfiguration)
	case c.Database == "":
		return errors.Mark(errors.New("no database configured"), ErrConfiguration)
	case c.Collection == "":
		return errors.Mark(errors.New("no collection configured"), ErrConfiguration)
	case c.EntrySize <= 0:
		return errors.Mark(errors.Newf("entry size must be positive, got %d", c.EntrySize), ErrConfiguration)
	case c.Retries < 1:
		return errors.Mark(errors.Newf("retries must be at least 1, got %d", c.Retries), ErrConfiguration)
	}
	return nil
}

// URI renders the connection string used to connect. The database is not
// part of the path so the auth source keeps the driver default.
func (c Config) URI() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "mongodb"
	}
	u := url.URL{Scheme: scheme, Host: strings.Join(c.Hosts, ","), Path: "/"}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}
	if len(c.DriverOptions) > 0 {
		q := url.Values{}
		keys := make([]string, 0, len(c.DriverOptions))
		for k := range c.DriverOptions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			q.Set(k, c.DriverOptions[k])
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Location is what a connection locator contributes to the configuration.
type Location struct {
	Scheme   string
	Hosts    []string
	Username string
	Password string
	Database string
	Options  map[string]string
}

// ParseLocation parses a bare host ("db1:27017") or a full connection URI.
// An empty location means DefaultHost.
func ParseLocation(location string) (Location, error) {
	uri := strings.TrimSpace(location)
	if uri == "" {
		uri = DefaultHost
	}
	if strings.HasPrefix(uri, connstring.SchemeMongoDBSRV+"://") {
		return parseSRVLocation(location, uri)
	}
	if !strings.HasPrefix(uri, "mongodb://") {
		uri = "mongodb://" + uri
	}
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return Location{}, errors.Mark(errors.Wrapf(err, "cannot parse location %q", location), ErrConfiguration)
	}
	loc := Location{
		Scheme:   cs.Scheme,
		Hosts:    cs.Hosts,
		Username: cs.Username,
		Password: cs.Password,
		Database: cs.Database,
		Options:  make(map[string]string, len(cs.Options)),
	}
	for k, values := range cs.Options {
		if len(values) > 0 {
			loc.Options[strings.ToLower(k)] = values[len(values)-1]
		}
	}
	return loc, nil
}

// parseSRVLocation keeps the single SRV name of a mongodb+srv locator. The
// driver resolves it when the client connects, so parsing does no DNS
// lookups.
func parseSRVLocation(location, uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, errors.Mark(errors.Wrapf(err, "cannot parse location %q", location), ErrConfiguration)
	}
	switch {
	case u.Host == "":
		return Location{}, errors.Mark(errors.Newf("location %q names no host", location), ErrConfiguration)
	case strings.Contains(u.Host, ","):
		return Location{}, errors.Mark(errors.Newf("location %q: an SRV locator names exactly one host", location), ErrConfiguration)
	case u.Port() != "":
		return Location{}, errors.Mark(errors.Newf("location %q: an SRV locator cannot carry a port", location), ErrConfiguration)
	}
	loc := Location{
		Scheme:   connstring.SchemeMongoDBSRV,
		Hosts:    []string{u.Hostname()},
		Database: strings.TrimPrefix(u.Path, "/"),
		Options:  make(map[string]string),
	}
	if u.User != nil {
		loc.Username = u.User.Username()
		loc.Password, _ = u.User.Password()
	}
	for k, values := range u.Query() {
		if len(values) > 0 {
			loc.Options[strings.ToLower(k)] = values[len(values)-1]
		}
	}
	return loc, nil
}

// Settings is the cache block of a host configuration file.
type Settings struct {
	// Location is a bare host or a connection URI.
	Location string `yaml:"location"`
	// Timeout is a number of seconds or a duration such as "90s" or "1d".
	// Empty, zero and negative values mean no timeout.
	Timeout    string `yaml:"timeout"`
	MaxEntries int64  `yaml:"max_entries"`
	KeyPrefix  string `yaml:"key_prefix"`
	Version    int    `yaml:"version"`
	// Options recognizes USERNAME, PASSWORD, DATABASE, COLLECTION,
	// ENTRY_SIZE and RETRIES. Any other key is a driver option.
	Options map[string]any `yaml:"options"`
}

// LoadSettings reads Settings from a YAML file.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	buf, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrapf(err, "cannot read settings %s", path)
	}
	if err := yaml.Unmarshal(buf, &s); err != nil {
		return s, errors.Mark(errors.Wrapf(err, "cannot parse settings %s", path), ErrConfiguration)
	}
	return s, nil
}

// ParseTimeout parses a timeout setting. It returns 0 for "no timeout".
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "never", "null":
		return 0, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else {
		d, err = str2duration.ParseDuration(s)
		if err != nil {
			return 0, errors.Mark(errors.Wrapf(err, "invalid timeout %q", s), ErrConfiguration)
		}
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// ParseSize accepts an integer byte count or a quantity such as "512" or "2Ki".
func ParseSize(v any) (int64, error) {
	if s, ok := v.(string); ok {
		q, err := resource.ParseQuantity(strings.TrimSpace(s))
		if err != nil {
			return 0, errors.Mark(errors.Wrapf(err, "invalid size %q", s), ErrConfiguration)
		}
		return q.Value(), nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "invalid size %v", v), ErrConfiguration)
	}
	return n, nil
}

// Resolve merges the location with the structured options and picks the
// mode. Options override values parsed from the location.
func (s Settings) Resolve() (Config, error) {
	loc, err := ParseLocation(s.Location)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Scheme:        loc.Scheme,
		Hosts:         loc.Hosts,
		Username:      loc.Username,
		Password:      loc.Password,
		Database:      DefaultDatabase,
		Collection:    DefaultCollection,
		DriverOptions: loc.Options,
		EntrySize:     DefaultEntrySize,
		KeyPrefix:     s.KeyPrefix,
		Version:       s.Version,
		Retries:       DefaultRetries,
	}
	if loc.Database != "" {
		cfg.Database = loc.Database
	}
	if cfg.Version == 0 {
		cfg.Version = DefaultVersion
	}
	for k, v := range s.Options {
		switch strings.ToUpper(k) {
		case "USERNAME":
			cfg.Username = cast.ToString(v)
		case "PASSWORD":
			cfg.Password = cast.ToString(v)
		case "DATABASE":
			cfg.Database = cast.ToString(v)
		case "COLLECTION":
			cfg.Collection = cast.ToString(v)
		case "ENTRY_SIZE":
			if cfg.EntrySize, err = ParseSize(v); err != nil {
				return Config{}, err
			}
		case "RETRIES":
			if cfg.Retries, err = cast.ToIntE(v); err != nil {
				return Config{}, errors.Mark(errors.Wrapf(err, "invalid RETRIES %v", v), ErrConfiguration)
			}
		default:
			cfg.DriverOptions[strings.ToLower(k)] = cast.ToString(v)
		}
	}

	timeout, err := ParseTimeout(s.Timeout)
	if err != nil {
		return Config{}, err
	}
	switch {
	case timeout > 0 && s.MaxEntries > 0:
		return Config{}, errors.Mark(errors.New("configure either a timeout or a max entry count, not both"), ErrConfiguration)
	case timeout > 0:
		cfg.Mode = TTLMode{Timeout: timeout}
	case s.MaxEntries > 0:
		cfg.Mode = CappedMode{MaxEntries: s.MaxEntries}
	}
	return cfg, cfg.Validate()
}
