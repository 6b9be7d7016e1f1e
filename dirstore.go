package dirstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/calvinalkan/dirstore/internal/vfs"
)

// Store is a collection store rooted at a directory, one JSON file per
// collection. All methods are safe for concurrent use.
//
// Reads are served from the cache or straight from disk and never block.
// Mutations to the same collection are serialized in arrival order; with
// [Config.FileLock] they are additionally fenced against other processes
// through a pid sentinel file.
type Store struct {
	cfg  Config
	fsys vfs.FS
	log  *slog.Logger

	cache    *cache
	external map[string]bool

	backend    Backend
	ownBackend bool

	mu     sync.Mutex
	cols   map[string]*Collection
	closed bool

	metaMu sync.Mutex
	meta   metaState

	watch *watcher
}

// Open opens (or creates) the store rooted at cfg.BaseDir.
func Open(cfg Config) (*Store, error) {
	return newStore(cfg, vfs.NewReal())
}

// newStore is Open with an injectable filesystem.
func newStore(cfg Config, fsys vfs.FS) (*Store, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := fsys.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", cfg.BaseDir, err)
	}

	s := &Store{
		cfg:      cfg,
		fsys:     fsys,
		log:      cfg.Logger,
		cache:    newCache(cfg.Cache),
		external: make(map[string]bool, len(cfg.External)),
		backend:  cfg.Backend,
		cols:     make(map[string]*Collection),
	}

	for _, name := range cfg.External {
		s.external[name] = true
	}

	if len(s.external) > 0 && s.backend == nil {
		b, err := OpenBolt(cfg.ExternalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open external backend: %w", err)
		}

		s.backend = b
		s.ownBackend = true
	}

	s.meta = loadMeta(fsys, cfg.BaseDir, s.log)

	// Watching exists to invalidate cache entries, so it has nothing to do
	// when caching is off.
	if cfg.Watch && cfg.Cache.Mode != CacheOff {
		w, err := startWatcher(s)
		if err != nil {
			if s.ownBackend {
				_ = s.backend.Close()
			}

			return nil, fmt.Errorf("failed to start file watcher: %w", err)
		}

		s.watch = w
	}

	return s, nil
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// validateName rejects names that could collide with sentinel, metadata, or
// quarantine files, or escape the base directory.
func validateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q (letters, digits, '_' and '-' only)", ErrName, name)
	}

	return nil
}

// Collection returns the handle for name, creating it on first use. The
// same handle is returned for the same name for the lifetime of the store,
// so mutation ordering is per name, not per handle.
//
// Nothing is read or written until the first operation on the handle.
func (s *Store) Collection(name string) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if c, ok := s.cols[name]; ok {
		return c, nil
	}

	c := &Collection{store: s, name: name}
	s.cols[name] = c

	return c, nil
}

// Collections lists the collections present on disk, sorted. Hidden files,
// quarantined files, and files whose stem is not a valid collection name
// are skipped. Backend-served collections appear only once they have a
// file, which hybrid fallback writes on the first backend failure.
func (s *Store) Collections() ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	entries, err := s.fsys.ReadDir(s.cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read base directory %s: %w", s.cfg.BaseDir, err)
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name, ok := strings.CutSuffix(e.Name(), collectionExt)
		if !ok || validateName(name) != nil {
			continue
		}

		names = append(names, name)
	}

	slices.Sort(names)

	return names, nil
}

// Drop deletes the named collections: their files, backend buckets, cache
// entries, id counters, and access counts. Missing collections are not an
// error. Each failure is reported; the rest still drop.
func (s *Store) Drop(ctx context.Context, names ...string) error {
	var errs []error

	for _, name := range names {
		c, err := s.Collection(name)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if err := c.Drop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to drop %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Warm preloads the named collections into the cache. A no-op when caching
// is off. Warming does not count as an access.
func (s *Store) Warm(ctx context.Context, names ...string) error {
	if s.cache.cfg.Mode == CacheOff {
		return nil
	}

	var errs []error

	for _, name := range names {
		c, err := s.Collection(name)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if _, err := c.load(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to warm %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// WarmTop preloads the n most-accessed collections, ranked by the live
// access counts (which include counts persisted by earlier sessions).
func (s *Store) WarmTop(ctx context.Context, n int) error {
	if n <= 0 || s.cache.cfg.Mode == CacheOff {
		return nil
	}

	counts := s.accessCounts()

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}

	slices.SortFunc(names, func(a, b string) int {
		if d := cmp.Compare(counts[b], counts[a]); d != 0 {
			return d
		}

		return cmp.Compare(a, b)
	})

	if len(names) > n {
		names = names[:n]
	}

	return s.Warm(ctx, names...)
}

// CacheStats returns cumulative cache counters since Open.
func (s *Store) CacheStats() CacheStats {
	return s.cache.stats()
}

// TopAccessed returns the n most-accessed live cache entries, most
// accessed first. A non-positive n returns every entry.
func (s *Store) TopAccessed(n int) []EntryStats {
	return s.cache.top(n)
}

// Invalidate drops the named collections from the cache, or the whole
// cache when no names are given. The next read reloads from disk.
func (s *Store) Invalidate(names ...string) {
	s.cache.invalidate(names...)
}

// BaseDir returns the directory the store is rooted at.
func (s *Store) BaseDir() string {
	return s.cfg.BaseDir
}

// Close flushes access counts to the metadata file, stops the watcher, and
// closes a backend the store opened itself. Operations after Close return
// [ErrClosed]; Close itself is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true
	s.mu.Unlock()

	var errs []error

	if s.watch != nil {
		if err := s.watch.stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop file watcher: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LockTimeout)
	defer cancel()

	if err := s.flushMeta(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush metadata: %w", err))
	}

	if s.ownBackend {
		if err := s.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close external backend: %w", err))
		}
	}

	s.cache.invalidate()

	return errors.Join(errs...)
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	return nil
}
