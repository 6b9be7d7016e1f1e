package dirstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

const (
	collectionExt    = ".json"
	externalFileName = ".external.db"
	quarantinePrefix = ".corrupt-"
)

// colPath returns the collection file path for name.
func (s *Store) colPath(name string) string {
	return filepath.Join(s.cfg.BaseDir, name+collectionExt)
}

// lockPath returns the cross-process sentinel path for name. Collection
// names never contain dots, so sentinels cannot collide with collection
// files or with each other.
func (s *Store) lockPath(name string) string {
	return filepath.Join(s.cfg.BaseDir, "."+name+".lock")
}

func (s *Store) isExternal(name string) bool {
	return s.external[name]
}

// loadRoot reads the current snapshot of a collection. It returns the root,
// the encoded size in bytes, and the file mtime (zero for backend-served
// collections). A missing collection loads as an empty shapeless root.
func (s *Store) loadRoot(ctx context.Context, name string) (Root, int64, time.Time, error) {
	if s.isExternal(name) {
		root, found, err := s.backend.Load(ctx, name)
		switch {
		case err != nil:
			s.log.Warn("external backend load failed, falling back to file",
				"collection", name, "error", err)
		case found:
			return root, rootSize(root), time.Time{}, nil
		default:
			// Absent from the backend: fall through to the file so data
			// written before the collection went external stays readable.
		}
	}

	return s.loadFile(name)
}

// loadFile reads and decodes <BaseDir>/<name>.json. A malformed file is
// moved aside to a timestamped .corrupt- sibling and the collection loads
// empty; only a failed quarantine turns corruption into an error.
func (s *Store) loadFile(name string) (Root, int64, time.Time, error) {
	path := s.colPath(name)

	data, err := s.fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Root{}, 0, time.Time{}, nil
		}

		return Root{}, 0, time.Time{}, fmt.Errorf("failed to read collection %s: %w", name, err)
	}

	root, err := decodeRoot(data)
	if err != nil {
		quarantined, qerr := quarantine(s.fsys, path)
		if qerr != nil {
			return Root{}, 0, time.Time{}, fmt.Errorf(
				"failed to quarantine malformed collection %s: %w", name, errors.Join(err, qerr))
		}

		s.log.Error("quarantined malformed collection file",
			"collection", name, "from", path, "to", quarantined, "error", err)

		return Root{}, 0, time.Time{}, nil
	}

	mtime := time.Time{}
	if fi, serr := s.fsys.Stat(path); serr == nil {
		mtime = fi.ModTime()
	}

	return root, int64(len(data)), mtime, nil
}

// persistRoot durably stores a snapshot and returns its encoded size and
// the resulting file mtime. External collections go to the backend first;
// a backend failure falls back to the file so the write is never lost.
func (s *Store) persistRoot(ctx context.Context, name string, root Root) (int64, time.Time, error) {
	data, err := encodeRoot(root)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to encode collection %s: %w", name, err)
	}

	if s.isExternal(name) {
		err := s.backend.Store(ctx, name, root)
		if err == nil {
			return int64(len(data)), time.Time{}, nil
		}

		s.log.Warn("external backend store failed, falling back to file",
			"collection", name, "error", err)
	}

	path := s.colPath(name)
	if err := s.fsys.WriteFileAtomic(path, data, 0o644); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to write collection %s: %w", name, err)
	}

	mtime := time.Time{}
	if fi, serr := s.fsys.Stat(path); serr == nil {
		mtime = fi.ModTime()
	}

	return int64(len(data)), mtime, nil
}

// removeRoot deletes a collection's durable state everywhere it may live.
func (s *Store) removeRoot(ctx context.Context, name string) error {
	var errs []error

	if s.isExternal(name) {
		if err := s.backend.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete external collection %s: %w", name, err))
		}
	}

	if err := s.fsys.Remove(s.colPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to remove collection file %s: %w", name, err))
	}

	return errors.Join(errs...)
}

// rootSize estimates the cache weight of a root as its encoded length.
func rootSize(root Root) int64 {
	data, err := encodeRoot(root)
	if err != nil {
		return 0
	}

	return int64(len(data))
}
