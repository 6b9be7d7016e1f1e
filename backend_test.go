package dirstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func openTestBolt(t *testing.T) Backend {
	t.Helper()

	b, err := OpenBolt(filepath.Join(t.TempDir(), "external.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = b.Close() })

	return b
}

func Test_Bolt_Backend_Round_Trips_A_List_Root(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := openTestBolt(t)

	in := newListRoot([]Record{
		{"id": int64(1), "name": "Pikachu", "stats": map[string]any{"hp": int64(35)}},
		{"id": int64(7), "name": "Squirtle", "moves": []any{"tackle"}},
	})

	require.NoError(t, b.Store(ctx, "pokemon", in))

	out, found, err := b.Load(ctx, "pokemon")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ShapeList, out.Shape())

	if diff := cmp.Diff(in.List(), out.List()); diff != "" {
		t.Errorf("list round trip mismatch (-stored +loaded):\n%s", diff)
	}
}

func Test_Bolt_Backend_Round_Trips_A_Map_Root(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := openTestBolt(t)

	in := newMapRoot(map[string]any{
		"theme":  "dark",
		"limits": map[string]any{"max": int64(10)},
	})

	require.NoError(t, b.Store(ctx, "settings", in))

	out, found, err := b.Load(ctx, "settings")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ShapeMap, out.Shape())

	if diff := cmp.Diff(in.Map(), out.Map()); diff != "" {
		t.Errorf("map round trip mismatch (-stored +loaded):\n%s", diff)
	}
}

func Test_Bolt_Backend_Store_Replaces_The_Whole_Collection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := openTestBolt(t)

	require.NoError(t, b.Store(ctx, "pokemon", newListRoot([]Record{
		{"id": int64(1), "name": "A"},
		{"id": int64(2), "name": "B"},
	})))
	require.NoError(t, b.Store(ctx, "pokemon", newListRoot([]Record{
		{"id": int64(3), "name": "C"},
	})))

	out, found, err := b.Load(ctx, "pokemon")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, out.List(), 1)

	id, _ := out.List()[0].ID()
	require.Equal(t, int64(3), id)
}

func Test_Bolt_Backend_Distinguishes_Absent_From_Empty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := openTestBolt(t)

	_, found, err := b.Load(ctx, "never-stored")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, b.Store(ctx, "pokemon", newListRoot(nil)))

	out, found, err := b.Load(ctx, "pokemon")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ShapeList, out.Shape())
	require.Empty(t, out.List())

	require.NoError(t, b.Delete(ctx, "pokemon"))

	_, found, err = b.Load(ctx, "pokemon")
	require.NoError(t, err)
	require.False(t, found)

	// Deleting an absent collection is a no-op.
	require.NoError(t, b.Delete(ctx, "pokemon"))
}

// faultyBackend fails every operation while broken, delegating to an inner
// backend otherwise.
type faultyBackend struct {
	inner Backend

	mu     sync.Mutex
	broken bool
}

var errBackendDown = errors.New("backend down")

func (f *faultyBackend) setBroken(b bool) {
	f.mu.Lock()
	f.broken = b
	f.mu.Unlock()
}

func (f *faultyBackend) isBroken() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.broken
}

func (f *faultyBackend) Load(ctx context.Context, name string) (Root, bool, error) {
	if f.isBroken() {
		return Root{}, false, errBackendDown
	}

	return f.inner.Load(ctx, name)
}

func (f *faultyBackend) Store(ctx context.Context, name string, root Root) error {
	if f.isBroken() {
		return errBackendDown
	}

	return f.inner.Store(ctx, name, root)
}

func (f *faultyBackend) Delete(ctx context.Context, name string) error {
	if f.isBroken() {
		return errBackendDown
	}

	return f.inner.Delete(ctx, name)
}

func (f *faultyBackend) Close() error {
	return f.inner.Close()
}

func Test_External_Collection_Lives_In_The_Backend_Not_The_File(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, func(cfg *Config) { cfg.External = []string{"pokemon"} })
	col := mustCollection(t, s, "pokemon")

	stored, err := col.Insert(ctx, Record{"name": "Pikachu"})
	require.NoError(t, err)
	require.Equal(t, Record{"id": int64(1), "name": "Pikachu"}, stored)

	got, found, err := col.FindByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Pikachu", got["name"])

	// No JSON file was written for the backend-served collection.
	_, err = os.Stat(filepath.Join(s.BaseDir(), "pokemon.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_Backend_Failure_Falls_Back_To_The_File_Per_Operation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := &faultyBackend{inner: openTestBolt(t)}

	s := newTestStore(t, func(cfg *Config) {
		cfg.External = []string{"pokemon"}
		cfg.Backend = fb
		cfg.Cache = CacheConfig{Mode: CacheOff}
	})
	col := mustCollection(t, s, "pokemon")

	fb.setBroken(true)

	// The write is not lost: it lands in the file instead of failing.
	_, err := col.Insert(ctx, Record{"name": "Pikachu"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.BaseDir(), "pokemon.json"))
	require.NoError(t, err)
	require.Equal(t, "[{\"id\":1,\"name\":\"Pikachu\"}]\n", string(data))

	// Reads fall back to the same file while the backend is down.
	got, found, err := col.FindByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Pikachu", got["name"])

	// A recovered but empty backend still falls through to the file, so
	// data written during the outage stays readable.
	fb.setBroken(false)

	got, found, err = col.FindByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Pikachu", got["name"])
}
