package dirstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/calvinalkan/dirstore/internal/vfs"
)

const (
	metaFileName = ".meta.json"
	metaLockName = ".meta.json.lock"
)

// metaState is the per-installation metadata at <BaseDir>/.meta.json.
// It is rebuildable: counters self-heal from record ids and access counts
// only tune warm-up, so a malformed file is quarantined rather than fatal.
type metaState struct {
	// Counters holds the last id issued per list collection.
	Counters map[string]int64 `json:"counters,omitempty"`

	// Accessed holds cumulative operation counts per collection, persisted
	// on Close so WarmTop can rank collections across restarts.
	Accessed map[string]int64 `json:"accessed,omitempty"`
}

func newMetaState() metaState {
	return metaState{
		Counters: make(map[string]int64),
		Accessed: make(map[string]int64),
	}
}

func (s *Store) metaPath() string {
	return filepath.Join(s.cfg.BaseDir, metaFileName)
}

func (s *Store) metaLockPath() string {
	return filepath.Join(s.cfg.BaseDir, metaLockName)
}

// loadMeta reads the metadata file, returning a fresh state when the file
// is missing or unreadable.
func loadMeta(fsys vfs.FS, dir string, log *slog.Logger) metaState {
	meta := newMetaState()
	path := filepath.Join(dir, metaFileName)

	data, err := fsys.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("failed to read metadata file, starting fresh", "path", path, "error", err)
		}

		return meta
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		if quarantined, qerr := quarantine(fsys, path); qerr == nil {
			log.Warn("quarantined malformed metadata file",
				"from", path, "to", quarantined, "error", err)
		} else {
			log.Warn("failed to quarantine malformed metadata file",
				"path", path, "error", errors.Join(err, qerr))
		}

		return newMetaState()
	}

	if meta.Counters == nil {
		meta.Counters = make(map[string]int64)
	}

	if meta.Accessed == nil {
		meta.Accessed = make(map[string]int64)
	}

	return meta
}

// withMeta runs fn with the metadata state locked. In cross-process mode it
// holds the metadata sentinel and merges the on-disk state first, so counter
// advances made by other processes are never regressed.
func (s *Store) withMeta(ctx context.Context, fn func() error) error {
	if s.cfg.FileLock {
		release, err := acquireFileLock(ctx, s.fsys, s.metaLockPath(), s.cfg.LockTimeout, s.log)
		if err != nil {
			return err
		}
		defer release()
	}

	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if s.cfg.FileLock {
		s.mergeMetaLocked(loadMeta(s.fsys, s.cfg.BaseDir, s.log))
	}

	return fn()
}

// mergeMetaLocked folds an on-disk metadata snapshot into the in-memory
// state. Counters and access counts only ever move forward.
func (s *Store) mergeMetaLocked(disk metaState) {
	for name, v := range disk.Counters {
		if v > s.meta.Counters[name] {
			s.meta.Counters[name] = v
		}
	}

	for name, v := range disk.Accessed {
		if v > s.meta.Accessed[name] {
			s.meta.Accessed[name] = v
		}
	}
}

func (s *Store) saveMetaLocked() error {
	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	data = append(data, '\n')

	if err := s.fsys.WriteFileAtomic(s.metaPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

// allocateIDs issues n fresh record ids for a list collection, all above
// floor. With IDCounter the durable counter is advanced and persisted
// before any record carries the ids, so a crash can leave gaps but never
// duplicates. With IDScan ids restart above the current maximum in root.
func (s *Store) allocateIDs(ctx context.Context, name string, root Root, n int, floor int64) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}

	if s.cfg.IDs == IDScan {
		cur := maxID(root)
		if floor > cur {
			cur = floor
		}

		ids := make([]int64, n)
		for i := range ids {
			cur++
			ids[i] = cur
		}

		return ids, nil
	}

	var ids []int64

	err := s.withMeta(ctx, func() error {
		cur := s.meta.Counters[name]
		if top := maxID(root); top > cur {
			cur = top
		}

		if floor > cur {
			cur = floor
		}

		ids = make([]int64, n)
		for i := range ids {
			cur++
			ids[i] = cur
		}

		s.meta.Counters[name] = cur

		return s.saveMetaLocked()
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// noteExplicitID advances the durable counter past an explicitly provided
// record id so later allocations never reissue it.
func (s *Store) noteExplicitID(ctx context.Context, name string, id int64) error {
	if s.cfg.IDs != IDCounter || id <= 0 {
		return nil
	}

	s.metaMu.Lock()
	known := s.meta.Counters[name]
	s.metaMu.Unlock()

	if id <= known {
		return nil
	}

	return s.withMeta(ctx, func() error {
		if id <= s.meta.Counters[name] {
			return nil
		}

		s.meta.Counters[name] = id

		return s.saveMetaLocked()
	})
}

// dropMeta forgets a dropped collection's counter and access count. The
// merge in withMeta runs before the delete, so the deletion wins over
// whatever another process last persisted for the name.
func (s *Store) dropMeta(ctx context.Context, name string) error {
	s.metaMu.Lock()
	_, hadCounter := s.meta.Counters[name]
	_, hadAccess := s.meta.Accessed[name]
	s.metaMu.Unlock()

	if !hadCounter && !hadAccess {
		return nil
	}

	return s.withMeta(ctx, func() error {
		delete(s.meta.Counters, name)
		delete(s.meta.Accessed, name)

		return s.saveMetaLocked()
	})
}

// flushMeta persists the in-memory metadata. Called on Close so access
// counts survive restarts.
func (s *Store) flushMeta(ctx context.Context) error {
	return s.withMeta(ctx, s.saveMetaLocked)
}

// noteAccess bumps a collection's access count in memory.
func (s *Store) noteAccess(name string) {
	s.metaMu.Lock()
	s.meta.Accessed[name]++
	s.metaMu.Unlock()
}

// accessCounts returns a snapshot of the per-collection access counts.
func (s *Store) accessCounts() map[string]int64 {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	out := make(map[string]int64, len(s.meta.Accessed))
	for name, n := range s.meta.Accessed {
		out[name] = n
	}

	return out
}

// maxID returns the highest record id in a list root, or zero.
func maxID(root Root) int64 {
	var top int64

	for _, rec := range root.List() {
		if id, ok := rec.ID(); ok && id > top {
			top = id
		}
	}

	return top
}
