package dirstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Watcher_Invalidates_Externally_Rewritten_Collections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, func(cfg *Config) { cfg.Watch = true })
	col := mustCollection(t, s, "pokemon")

	_, err := col.Insert(ctx, Record{"name": "Pikachu"})
	require.NoError(t, err)
	require.True(t, residency(s.cache, "pokemon"))

	// Another process rewrites the file; the cache entry must go.
	path := filepath.Join(s.BaseDir(), "pokemon.json")
	require.NoError(t, os.WriteFile(path, []byte("[{\"id\":1,\"name\":\"Raichu\"}]\n"), 0o644))

	waitFor(t, func() bool { return !residency(s.cache, "pokemon") })

	rec, found, err := col.FindByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Raichu", rec["name"])
}

func Test_Watcher_Ignores_Non_Collection_Files(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, func(cfg *Config) { cfg.Watch = true })
	col := mustCollection(t, s, "pokemon")

	_, err := col.Insert(ctx, Record{"name": "Pikachu"})
	require.NoError(t, err)
	require.True(t, residency(s.cache, "pokemon"))

	other := mustCollection(t, s, "other")

	_, err = other.Insert(ctx, Record{"name": "x"})
	require.NoError(t, err)

	// Sentinels, quarantine leftovers, and stray files trigger events the
	// handler must not turn into invalidations.
	for _, name := range []string{".pokemon.lock", "pokemon.json.corrupt-1", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(s.BaseDir(), name), []byte("x"), 0o644))
	}

	// An external rewrite of a second collection is the fence: once its
	// invalidation lands, the stray-file events queued before it have been
	// handled too.
	require.NoError(t, os.WriteFile(filepath.Join(s.BaseDir(), "other.json"), []byte("{}\n"), 0o644))
	waitFor(t, func() bool { return !residency(s.cache, "other") })

	require.True(t, residency(s.cache, "pokemon"))
}

func Test_Watcher_Is_Skipped_When_Caching_Is_Off(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(cfg *Config) {
		cfg.Watch = true
		cfg.Cache = CacheConfig{Mode: CacheOff}
	})

	require.Nil(t, s.watch)
}
