package dirstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_LoadConfig_Parses_JSONC(t *testing.T) {
	t.Parallel()

	jsonc := `{
		// store layout
		"base_dir": "/var/data",
		"cache_mode": "lru",
		"cache_max_entries": 32,
		"cache_max_bytes": 1048576,
		"file_lock": true,
		"lock_timeout": "30s",
		"ids": "scan",
		"external": ["cards"],
		"watch": true, // trailing comma below is fine too
	}`

	path := filepath.Join(t.TempDir(), "dirstore.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(jsonc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "/var/data", cfg.BaseDir)
	require.Equal(t, CacheLRU, cfg.Cache.Mode)
	require.Equal(t, 32, cfg.Cache.MaxEntries)
	require.Equal(t, int64(1048576), cfg.Cache.MaxBytes)
	require.True(t, cfg.FileLock)
	require.Equal(t, 30*time.Second, cfg.LockTimeout)
	require.Equal(t, IDScan, cfg.IDs)
	require.Equal(t, []string{"cards"}, cfg.External)
	require.True(t, cfg.Watch)
}

func Test_ParseConfig_Rejects_Bad_Values(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid_jsonc", `{"base_dir": }`},
		{"unknown_cache_mode", `{"base_dir": "x", "cache_mode": "arc"}`},
		{"unknown_id_mode", `{"base_dir": "x", "ids": "uuid"}`},
		{"bad_ttl", `{"base_dir": "x", "cache_ttl": "soon"}`},
		{"bad_lock_timeout", `{"base_dir": "x", "lock_timeout": "5 parsecs"}`},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := parseConfig([]byte(tc.body)); err == nil {
				t.Errorf("parseConfig(%s) succeeded, want error", tc.body)
			}
		})
	}
}

func Test_Config_Defaults_Fill_Zero_Values(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseDir: "/var/data"}.withDefaults()

	require.Equal(t, DefaultLockTimeout, cfg.LockTimeout)
	require.Equal(t, filepath.Join("/var/data", externalFileName), cfg.ExternalPath)
	require.NotNil(t, cfg.Logger)
	require.Equal(t, CacheAll, cfg.Cache.Mode)
	require.Equal(t, IDCounter, cfg.IDs)
}

func Test_Config_Validate_Checks_Cache_Budgets(t *testing.T) {
	t.Parallel()

	ok := Config{
		BaseDir: "x",
		Cache:   CacheConfig{Mode: CacheLRU, MaxBytes: 1024},
	}.withDefaults()
	require.NoError(t, ok.validate())

	ttl := Config{
		BaseDir: "x",
		Cache:   CacheConfig{Mode: CacheTTL, TTL: time.Minute},
	}.withDefaults()
	require.NoError(t, ttl.validate())
}
