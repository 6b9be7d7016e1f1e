package dirstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// IDMode selects how list collections allocate record ids.
type IDMode uint8

const (
	// IDCounter allocates from a durable per-collection counter in the
	// installation metadata file. Strictly increasing, never reused,
	// correct across deletions and batched inserts. The default.
	IDCounter IDMode = iota

	// IDScan allocates max(existing ids)+1 per insert. Cheaper, but ids
	// can repeat after the record with the highest id is removed.
	IDScan
)

func (m IDMode) String() string {
	if m == IDScan {
		return "scan"
	}

	return "counter"
}

// DefaultLockTimeout bounds cross-process lock acquisition when
// [Config.LockTimeout] is zero.
const DefaultLockTimeout = 5 * time.Second

// Config configures a [Store]. BaseDir is required; the zero value of every
// other field is a working default.
type Config struct {
	// BaseDir is the directory holding one <name>.json file per collection.
	// Created if missing.
	BaseDir string

	// Cache configures the read cache. The zero value caches everything
	// with no eviction.
	Cache CacheConfig

	// FileLock enables the cross-process advisory lock: mutations create a
	// pid sentinel at <BaseDir>/.<name>.lock for the duration of the write.
	// Leave it off when a single process owns the directory.
	FileLock bool

	// LockTimeout bounds sentinel acquisition. Zero means
	// [DefaultLockTimeout].
	LockTimeout time.Duration

	// IDs selects the id allocator for list collections.
	IDs IDMode

	// External names collections served by Backend instead of their file.
	External []string

	// Backend serves the External collections. Nil opens a bolt backend at
	// ExternalPath.
	Backend Backend

	// ExternalPath is the bolt file used when Backend is nil. Zero means
	// <BaseDir>/.external.db.
	ExternalPath string

	// Watch invalidates cache entries when another process rewrites a
	// collection file under BaseDir.
	Watch bool

	// Logger receives quarantine, fallback, and lock-reclaim events.
	// Nil means [slog.Default].
	Logger *slog.Logger
}

// withDefaults returns cfg with zero values replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	if cfg.ExternalPath == "" && cfg.BaseDir != "" {
		cfg.ExternalPath = filepath.Join(cfg.BaseDir, externalFileName)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return cfg
}

func (cfg Config) validate() error {
	if cfg.BaseDir == "" {
		return errors.New("dirstore: BaseDir is required")
	}

	if cfg.LockTimeout < 0 {
		return errors.New("dirstore: LockTimeout must not be negative")
	}

	switch cfg.Cache.Mode {
	case CacheAll, CacheOff:
	case CacheTTL:
		if cfg.Cache.TTL <= 0 {
			return errors.New("dirstore: CacheTTL mode requires a positive Cache.TTL")
		}
	case CacheLRU:
		if cfg.Cache.MaxEntries <= 0 && cfg.Cache.MaxBytes <= 0 {
			return errors.New("dirstore: CacheLRU mode requires Cache.MaxEntries or Cache.MaxBytes")
		}
	default:
		return fmt.Errorf("dirstore: unknown cache mode %d", cfg.Cache.Mode)
	}

	if cfg.IDs != IDCounter && cfg.IDs != IDScan {
		return fmt.Errorf("dirstore: unknown id mode %d", cfg.IDs)
	}

	for _, name := range cfg.External {
		if err := validateName(name); err != nil {
			return fmt.Errorf("external collection: %w", err)
		}
	}

	return nil
}

// fileConfig is the JSONC on-disk form of [Config], used by LoadConfig.
type fileConfig struct {
	BaseDir         string   `json:"base_dir"` //nolint:tagliatelle // snake_case for config file
	CacheMode       string   `json:"cache_mode,omitempty"`        //nolint:tagliatelle
	CacheTTL        string   `json:"cache_ttl,omitempty"`         //nolint:tagliatelle
	CacheMaxEntries int      `json:"cache_max_entries,omitempty"` //nolint:tagliatelle
	CacheMaxBytes   int64    `json:"cache_max_bytes,omitempty"`   //nolint:tagliatelle
	FileLock        bool     `json:"file_lock,omitempty"`         //nolint:tagliatelle
	LockTimeout     string   `json:"lock_timeout,omitempty"`      //nolint:tagliatelle
	IDs             string   `json:"ids,omitempty"`
	External        []string `json:"external,omitempty"`
	ExternalPath    string   `json:"external_path,omitempty"` //nolint:tagliatelle
	Watch           bool     `json:"watch,omitempty"`
}

// LoadConfig reads a JSONC config file. Comments and trailing commas are
// allowed; durations are strings like "30s".
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	return parseConfig(data)
}

func parseConfig(data []byte) (Config, error) {
	// Standardize JSONC to JSON.
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(standardized, &fc); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	cfg := Config{
		BaseDir:      fc.BaseDir,
		FileLock:     fc.FileLock,
		External:     fc.External,
		ExternalPath: fc.ExternalPath,
		Watch:        fc.Watch,
		Cache: CacheConfig{
			MaxEntries: fc.CacheMaxEntries,
			MaxBytes:   fc.CacheMaxBytes,
		},
	}

	cfg.Cache.Mode, err = parseCacheMode(fc.CacheMode)
	if err != nil {
		return Config{}, err
	}

	cfg.IDs, err = parseIDMode(fc.IDs)
	if err != nil {
		return Config{}, err
	}

	cfg.Cache.TTL, err = parseConfigDuration("cache_ttl", fc.CacheTTL)
	if err != nil {
		return Config{}, err
	}

	cfg.LockTimeout, err = parseConfigDuration("lock_timeout", fc.LockTimeout)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func parseCacheMode(s string) (CacheMode, error) {
	switch s {
	case "", "all":
		return CacheAll, nil
	case "off":
		return CacheOff, nil
	case "ttl":
		return CacheTTL, nil
	case "lru":
		return CacheLRU, nil
	default:
		return 0, fmt.Errorf("unknown cache_mode %q (want all, off, ttl, or lru)", s)
	}
}

func parseIDMode(s string) (IDMode, error) {
	switch s {
	case "", "counter":
		return IDCounter, nil
	case "scan":
		return IDScan, nil
	default:
		return 0, fmt.Errorf("unknown ids mode %q (want counter or scan)", s)
	}
}

func parseConfigDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}

	return d, nil
}
