package dirstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Open_Rejects_Invalid_Config(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing_base_dir", Config{}},
		{"negative_timeout", Config{BaseDir: "x", LockTimeout: -1}},
		{"ttl_without_duration", Config{BaseDir: "x", Cache: CacheConfig{Mode: CacheTTL}}},
		{"lru_without_budget", Config{BaseDir: "x", Cache: CacheConfig{Mode: CacheLRU}}},
		{"bad_external_name", Config{BaseDir: "x", External: []string{"../etc"}}},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := Open(tc.cfg); err == nil {
				t.Error("Open() succeeded, want config error")
			}
		})
	}
}

func Test_Collection_Rejects_Unsafe_Names(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)

	for _, name := range []string{"", ".", "..", "a/b", "a.b", ".hidden", "a b", "café"} {
		if _, err := s.Collection(name); err == nil {
			t.Errorf("Collection(%q) succeeded, want ErrName", name)
		}
	}

	for _, name := range []string{"pokemon", "POKEMON", "a-b_c", "42"} {
		if _, err := s.Collection(name); err != nil {
			t.Errorf("Collection(%q) error = %v", name, err)
		}
	}
}

func Test_Collection_Returns_The_Same_Handle_Per_Name(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, nil)

	a, err := s.Collection("pokemon")
	require.NoError(t, err)

	b, err := s.Collection("pokemon")
	require.NoError(t, err)

	if a != b {
		t.Error("two handles for one name; mutation ordering would split across queues")
	}
}

func Test_Collections_Lists_Data_Files_Only(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, nil)

	_, err := mustCollection(t, s, "pokemon").Insert(ctx, Record{"name": "A"})
	require.NoError(t, err)
	require.NoError(t, mustCollection(t, s, "settings").Set(ctx, "k", "v"))

	// Internal and stray files never show up as collections.
	for _, name := range []string{".meta.json", ".pokemon.lock", "pokemon.json.corrupt-1", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(s.BaseDir(), name), []byte("x"), 0o644))
	}

	names, err := s.Collections()
	require.NoError(t, err)
	require.Equal(t, []string{"pokemon", "settings"}, names)
}

func Test_Drop_Removes_Files_And_Ignores_Missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, nil)

	_, err := mustCollection(t, s, "pokemon").Insert(ctx, Record{"name": "A"})
	require.NoError(t, err)
	require.NoError(t, mustCollection(t, s, "settings").Set(ctx, "k", "v"))

	require.NoError(t, s.Drop(ctx, "pokemon", "settings", "never-existed"))

	names, err := s.Collections()
	require.NoError(t, err)
	require.Empty(t, names)

	_, err = os.Stat(filepath.Join(s.BaseDir(), "pokemon.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_Warm_Preloads_Collections_Into_The_Cache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, nil)

	_, err := mustCollection(t, s, "pokemon").Insert(ctx, Record{"name": "A"})
	require.NoError(t, err)

	s.Invalidate()
	require.False(t, residency(s.cache, "pokemon"))

	require.NoError(t, s.Warm(ctx, "pokemon"))
	require.True(t, residency(s.cache, "pokemon"))
}

func Test_WarmTop_Preloads_The_Most_Accessed_Collections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, nil)

	hot := mustCollection(t, s, "hot")
	cold := mustCollection(t, s, "cold")

	_, err := hot.Insert(ctx, Record{"n": 1})
	require.NoError(t, err)
	_, err = cold.Insert(ctx, Record{"n": 1})
	require.NoError(t, err)

	for n := 0; n < 5; n++ {
		_, err := hot.Find(ctx, nil)
		require.NoError(t, err)
	}

	s.Invalidate()

	require.NoError(t, s.WarmTop(ctx, 1))
	require.True(t, residency(s.cache, "hot"))
	require.False(t, residency(s.cache, "cold"))
}

func Test_CacheStats_And_TopAccessed_Report_Live_Counters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, nil)
	col := mustCollection(t, s, "pokemon")

	_, err := col.Insert(ctx, Record{"name": "A"})
	require.NoError(t, err)

	// The insert put the root; both reads are hits.
	for n := 0; n < 2; n++ {
		_, err := col.Find(ctx, nil)
		require.NoError(t, err)
	}

	stats := s.CacheStats()
	require.Equal(t, int64(2), stats.Hits)
	require.Equal(t, 1, stats.Entries)
	require.Positive(t, stats.Bytes)

	top := s.TopAccessed(10)
	require.Len(t, top, 1)
	require.Equal(t, "pokemon", top[0].Name)
	require.Equal(t, int64(2), top[0].Accesses)
}

func Test_Invalidate_Forces_The_Next_Read_To_Disk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, nil)
	col := mustCollection(t, s, "pokemon")

	_, err := col.Insert(ctx, Record{"name": "A"})
	require.NoError(t, err)

	// Simulate another process rewriting the file behind the cache.
	path := filepath.Join(s.BaseDir(), "pokemon.json")
	require.NoError(t, os.WriteFile(path, []byte("[{\"id\":1,\"name\":\"B\"}]\n"), 0o644))

	rec, _, err := col.FindByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "A", rec["name"], "cached snapshot expected before invalidation")

	s.Invalidate("pokemon")

	rec, _, err = col.FindByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "B", rec["name"])
}
