package dirstore

import (
	"io"
	"log/slog"
	"testing"

	"github.com/calvinalkan/dirstore/internal/vfs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens a store on a fresh temp dir with a quiet logger.
func newTestStore(t *testing.T, mutate func(*Config)) *Store {
	t.Helper()

	cfg := Config{BaseDir: t.TempDir(), Logger: discardLogger()}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

// newFlakyStore opens a store whose filesystem failures are scripted by the
// returned Flaky.
func newFlakyStore(t *testing.T, mutate func(*Config)) (*Store, *vfs.Flaky) {
	t.Helper()

	fsys := vfs.NewFlaky(vfs.NewReal())

	cfg := Config{BaseDir: t.TempDir(), Logger: discardLogger()}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := newStore(cfg, fsys)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s, fsys
}

// mustCollection fails the test when the handle cannot be created.
func mustCollection(t *testing.T, s *Store, name string) *Collection {
	t.Helper()

	c, err := s.Collection(name)
	if err != nil {
		t.Fatalf("Collection(%q) error = %v", name, err)
	}

	return c
}
