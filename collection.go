package dirstore

import (
	"context"
	"errors"
	"fmt"
)

// errDuplicateID rejects inserts whose explicit id is already taken.
var errDuplicateID = errors.New("duplicate record id")

// Collection is a handle to one named collection. Handles are cheap,
// long-lived, and safe for concurrent use; obtain them from
// [Store.Collection].
//
// A collection's shape (list of records or map of entries) is fixed by its
// first materializing write. Operations of the other shape return
// [ErrShape] from then on.
type Collection struct {
	store *Store
	name  string
	queue lockQueue
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// read loads the current root for a read-only operation. Reads never enter
// the mutation queue.
func (c *Collection) read(ctx context.Context) (Root, error) {
	if err := c.store.checkOpen(); err != nil {
		return Root{}, err
	}

	c.store.noteAccess(c.name)

	return c.load(ctx)
}

// load serves the root from cache or loads and caches it. The returned
// root is a private copy.
func (c *Collection) load(ctx context.Context) (Root, error) {
	if root, ok := c.store.cache.get(c.name); ok {
		return root, nil
	}

	root, size, mtime, err := c.store.loadRoot(ctx, c.name)
	if err != nil {
		return Root{}, err
	}

	c.store.cache.put(c.name, root, size, mtime)

	return root, nil
}

// mutate runs fn against the current root with the collection's writer slot
// held. fn mutates the root in place and reports whether anything changed;
// an unchanged root is not rewritten. The slot is released on every path,
// so a failing fn never wedges the queue.
func (c *Collection) mutate(ctx context.Context, fn func(root *Root) (bool, error)) error {
	s := c.store

	if err := s.checkOpen(); err != nil {
		return err
	}

	s.noteAccess(c.name)

	if err := c.queue.acquire(ctx); err != nil {
		return err
	}
	defer c.queue.release()

	if s.cfg.FileLock {
		release, err := acquireFileLock(ctx, s.fsys, s.lockPath(c.name), s.cfg.LockTimeout, s.log)
		if err != nil {
			return err
		}
		defer release()
	}

	root, err := c.loadForWrite(ctx)
	if err != nil {
		return err
	}

	dirty, err := fn(&root)
	if err != nil {
		return err
	}

	if !dirty {
		return nil
	}

	size, mtime, err := s.persistRoot(ctx, c.name, root)
	if err != nil {
		return err
	}

	s.cache.put(c.name, root, size, mtime)

	return nil
}

// loadForWrite returns a private root for mutation. With FileLock enabled
// another process may have written since the cache entry was taken, so the
// durable state is always re-read under the lock; in single-process mode a
// live cache entry is trusted.
func (c *Collection) loadForWrite(ctx context.Context) (Root, error) {
	if !c.store.cfg.FileLock {
		if root, ok := c.store.cache.get(c.name); ok {
			return root, nil
		}
	}

	root, _, _, err := c.store.loadRoot(ctx, c.name)

	return root, err
}

// checkShape permits any read on a not-yet-materialized collection; only a
// real mismatch is an error.
func (c *Collection) checkShape(root Root, want Shape) error {
	if root.shape == ShapeNone || root.shape == want {
		return nil
	}

	return c.shapeErr(root.shape, want)
}

// ensureShape materializes an absent root as want, or verifies the shape.
func (c *Collection) ensureShape(root *Root, want Shape) error {
	if root.shape == ShapeNone {
		*root = emptyRoot(want)

		return nil
	}

	if root.shape != want {
		return c.shapeErr(root.shape, want)
	}

	return nil
}

func (c *Collection) shapeErr(got, want Shape) error {
	return fmt.Errorf("%w: collection %s is %s, operation needs %s", ErrShape, c.name, got, want)
}

// materializeForPath gives an absent root the shape implied by a deep
// path: a leading numeric segment indexes records, anything else keys a
// map.
func (c *Collection) materializeForPath(root *Root, segs []string) {
	if root.shape != ShapeNone {
		return
	}

	if _, ok := pathIndex(segs[0]); ok {
		*root = emptyRoot(ShapeList)
	} else {
		*root = emptyRoot(ShapeMap)
	}
}

// ---- Shared operations ----

// Shape returns the collection's current shape. An absent collection has
// [ShapeNone].
func (c *Collection) Shape(ctx context.Context) (Shape, error) {
	root, err := c.read(ctx)
	if err != nil {
		return ShapeNone, err
	}

	return root.shape, nil
}

// Root returns a snapshot of the collection's full content. The snapshot
// is the caller's own copy.
func (c *Collection) Root(ctx context.Context) (Root, error) {
	return c.read(ctx)
}

// Find returns the entries matching q. On a list collection these are the
// matching records; on a map collection the map-typed values whose fields
// match. Non-map values never match a field query.
func (c *Collection) Find(ctx context.Context, q Query) ([]Record, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	return matchRoot(root, q), nil
}

// FindFunc returns the entries for which pred returns true, scanning in
// collection order.
func (c *Collection) FindFunc(ctx context.Context, pred func(Record) bool) ([]Record, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	var out []Record

	for _, rec := range matchRoot(root, nil) {
		if pred(rec) {
			out = append(out, rec)
		}
	}

	return out, nil
}

// FindOne returns the first entry matching q.
func (c *Collection) FindOne(ctx context.Context, q Query) (Record, bool, error) {
	matches, err := c.Find(ctx, q)
	if err != nil || len(matches) == 0 {
		return nil, false, err
	}

	return matches[0], true, nil
}

// Exists reports whether any entry matches q.
func (c *Collection) Exists(ctx context.Context, q Query) (bool, error) {
	_, found, err := c.FindOne(ctx, q)

	return found, err
}

// Count returns the number of entries matching q. A nil or empty query
// counts every entry, including non-map values of a map collection.
func (c *Collection) Count(ctx context.Context, q Query) (int, error) {
	root, err := c.read(ctx)
	if err != nil {
		return 0, err
	}

	if len(q) == 0 {
		return root.Len(), nil
	}

	return len(matchRoot(root, q)), nil
}

// Keys returns the collection's keys: sorted top-level keys for a map,
// decimal record ids in record order for a list.
func (c *Collection) Keys(ctx context.Context) ([]string, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	return root.keys(), nil
}

// Values returns the collection's values: map values in sorted key order,
// or list records in record order.
func (c *Collection) Values(ctx context.Context) ([]any, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	return root.values(), nil
}

// Clear resets the collection to empty while keeping its shape. The id
// counter is not reset; ids are never reused.
func (c *Collection) Clear(ctx context.Context) error {
	return c.mutate(ctx, func(root *Root) (bool, error) {
		switch root.shape {
		case ShapeList:
			if len(root.list) == 0 {
				return false, nil
			}

			root.list = nil

			return true, nil
		case ShapeMap:
			if len(root.dict) == 0 {
				return false, nil
			}

			root.dict = map[string]any{}

			return true, nil
		default:
			return false, nil
		}
	})
}

// Drop deletes the collection: its file, backend bucket, cache entry, id
// counter, and access count. The handle stays valid; the next write
// materializes a fresh collection.
func (c *Collection) Drop(ctx context.Context) error {
	s := c.store

	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := c.queue.acquire(ctx); err != nil {
		return err
	}
	defer c.queue.release()

	if s.cfg.FileLock {
		release, err := acquireFileLock(ctx, s.fsys, s.lockPath(c.name), s.cfg.LockTimeout, s.log)
		if err != nil {
			return err
		}
		defer release()
	}

	var errs []error

	if err := s.removeRoot(ctx, c.name); err != nil {
		errs = append(errs, err)
	}

	s.cache.invalidate(c.name)

	if err := s.dropMeta(ctx, c.name); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ---- List operations ----

// Records returns every record of a list collection.
func (c *Collection) Records(ctx context.Context) ([]Record, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.checkShape(root, ShapeList); err != nil {
		return nil, err
	}

	return root.list, nil
}

// FindByID returns the record with the given id.
func (c *Collection) FindByID(ctx context.Context, id int64) (Record, bool, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := c.checkShape(root, ShapeList); err != nil {
		return nil, false, err
	}

	for _, rec := range root.list {
		if rid, ok := rec.ID(); ok && rid == id {
			return rec, true, nil
		}
	}

	return nil, false, nil
}

// First returns the first record of a list collection.
func (c *Collection) First(ctx context.Context) (Record, bool, error) {
	return c.edge(ctx, 0)
}

// Last returns the last record of a list collection.
func (c *Collection) Last(ctx context.Context) (Record, bool, error) {
	return c.edge(ctx, -1)
}

func (c *Collection) edge(ctx context.Context, pos int) (Record, bool, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := c.checkShape(root, ShapeList); err != nil {
		return nil, false, err
	}

	if len(root.list) == 0 {
		return nil, false, nil
	}

	if pos < 0 {
		pos = len(root.list) - 1
	}

	return root.list[pos], true, nil
}

// Insert stores a record. A record without an id gets a fresh one; an
// explicit id is kept and must be unused. On a map collection the record's
// top-level keys are merged into the root instead.
func (c *Collection) Insert(ctx context.Context, rec Record) (Record, error) {
	var stored Record

	err := c.mutate(ctx, func(root *Root) (bool, error) {
		if root.shape == ShapeNone {
			*root = emptyRoot(ShapeList)
		}

		if root.shape == ShapeMap {
			root.dict = deepMerge(root.dict, rec)
			stored = cloneRecord(rec)

			return true, nil
		}

		recs, err := c.prepareInsert(ctx, *root, []Record{rec})
		if err != nil {
			return false, err
		}

		root.list = append(root.list, recs...)
		stored = recs[0]

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// InsertMany stores records in one locked section with one batched id
// reservation. Either every record is stored or none is.
func (c *Collection) InsertMany(ctx context.Context, recs []Record) ([]Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	var stored []Record

	err := c.mutate(ctx, func(root *Root) (bool, error) {
		if err := c.ensureShape(root, ShapeList); err != nil {
			return false, err
		}

		prepared, err := c.prepareInsert(ctx, *root, recs)
		if err != nil {
			return false, err
		}

		root.list = append(root.list, prepared...)
		stored = prepared

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// prepareInsert clones the incoming records, validates explicit ids
// against the current root and the batch itself, and fills missing ids
// from the allocator. Explicit ids advance the durable counter so they are
// never reissued.
func (c *Collection) prepareInsert(ctx context.Context, root Root, recs []Record) ([]Record, error) {
	taken := make(map[int64]bool, len(root.list)+len(recs))

	for _, rec := range root.list {
		if id, ok := rec.ID(); ok {
			taken[id] = true
		}
	}

	out := make([]Record, len(recs))

	var (
		need        int
		maxExplicit int64
	)

	for i, rec := range recs {
		r := cloneRecord(rec)

		// Ids are positive; a zero or negative id counts as absent.
		if id, ok := r.ID(); ok && id > 0 {
			if taken[id] {
				return nil, fmt.Errorf("%w: %d already present in %s", errDuplicateID, id, c.name)
			}

			taken[id] = true

			if id > maxExplicit {
				maxExplicit = id
			}
		} else {
			if ok {
				delete(r, idField)
			}

			need++
		}

		out[i] = r
	}

	if need > 0 {
		ids, err := c.store.allocateIDs(ctx, c.name, root, need, maxExplicit)
		if err != nil {
			return nil, err
		}

		next := 0

		for _, r := range out {
			if _, ok := r.ID(); !ok {
				r[idField] = ids[next]
				next++
			}
		}
	}

	// All-explicit batches skip the allocator, so bump the counter here.
	if maxExplicit > 0 && need == 0 {
		if err := c.store.noteExplicitID(ctx, c.name, maxExplicit); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Update deep-merges partial onto the record with the given id and returns
// the result. The id field is immutable; a no-op (false) when no record
// has the id.
func (c *Collection) Update(ctx context.Context, id int64, partial Record) (Record, bool, error) {
	var (
		updated Record
		found   bool
	)

	err := c.mutate(ctx, func(root *Root) (bool, error) {
		if err := c.checkShape(*root, ShapeList); err != nil {
			return false, err
		}

		for i, rec := range root.list {
			rid, ok := rec.ID()
			if !ok || rid != id {
				continue
			}

			merged := Record(deepMerge(map[string]any(rec), partial))
			merged[idField] = rid
			root.list[i] = merged
			updated = merged
			found = true

			return true, nil
		}

		return false, nil
	})
	if err != nil {
		return nil, false, err
	}

	return updated, found, nil
}

// UpdateMany applies per-id partials in one locked section and returns the
// number of records updated. Ids without a record are skipped.
func (c *Collection) UpdateMany(ctx context.Context, updates map[int64]Record) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	var n int

	err := c.mutate(ctx, func(root *Root) (bool, error) {
		if err := c.checkShape(*root, ShapeList); err != nil {
			return false, err
		}

		for i, rec := range root.list {
			rid, ok := rec.ID()
			if !ok {
				continue
			}

			partial, ok := updates[rid]
			if !ok {
				continue
			}

			merged := Record(deepMerge(map[string]any(rec), partial))
			merged[idField] = rid
			root.list[i] = merged
			n++
		}

		return n > 0, nil
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

// Upsert deep-merges data onto the first record matching q, or inserts the
// union of q and data when nothing matches. Requires a list collection: a
// map root has no key under which a missed query could insert.
func (c *Collection) Upsert(ctx context.Context, q Query, data Record) (Record, error) {
	var stored Record

	err := c.mutate(ctx, func(root *Root) (bool, error) {
		if root.shape == ShapeNone {
			*root = emptyRoot(ShapeList)
		}

		if root.shape != ShapeList {
			return false, c.shapeErr(root.shape, ShapeList)
		}

		for i, rec := range root.list {
			if !q.Matches(rec) {
				continue
			}

			rid, hadID := rec.ID()
			merged := Record(deepMerge(map[string]any(rec), data))

			if hadID {
				merged[idField] = rid
			}

			root.list[i] = merged
			stored = merged

			return true, nil
		}

		rec := deepMerge(cloneMap(q), data)

		prepared, err := c.prepareInsert(ctx, *root, []Record{rec})
		if err != nil {
			return false, err
		}

		root.list = append(root.list, prepared...)
		stored = prepared[0]

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// Remove deletes the record with the given id, reporting whether one was
// found.
func (c *Collection) Remove(ctx context.Context, id int64) (bool, error) {
	n, err := c.RemoveMany(ctx, id)

	return n > 0, err
}

// RemoveMany deletes the records with the given ids in one locked section
// and returns the number removed.
func (c *Collection) RemoveMany(ctx context.Context, ids ...int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	return c.removeWhere(ctx, func(rec Record) bool {
		id, ok := rec.ID()

		return ok && drop[id]
	})
}

// RemoveFunc deletes every record for which pred returns true and returns
// the number removed.
func (c *Collection) RemoveFunc(ctx context.Context, pred func(Record) bool) (int, error) {
	return c.removeWhere(ctx, pred)
}

func (c *Collection) removeWhere(ctx context.Context, pred func(Record) bool) (int, error) {
	var n int

	err := c.mutate(ctx, func(root *Root) (bool, error) {
		if err := c.checkShape(*root, ShapeList); err != nil {
			return false, err
		}

		kept := root.list[:0]

		for _, rec := range root.list {
			if pred(rec) {
				n++

				continue
			}

			kept = append(kept, rec)
		}

		if n == 0 {
			return false, nil
		}

		root.list = kept

		return true, nil
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

// ---- Map operations ----

// Entries returns a copy of every top-level entry of a map collection.
func (c *Collection) Entries(ctx context.Context) (map[string]any, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.checkShape(root, ShapeMap); err != nil {
		return nil, err
	}

	if root.dict == nil {
		return map[string]any{}, nil
	}

	return root.dict, nil
}

// Get returns the value stored under key.
func (c *Collection) Get(ctx context.Context, key string) (any, bool, error) {
	root, err := c.read(ctx)
	if err != nil {
		return nil, false, err
	}

	if err := c.checkShape(root, ShapeMap); err != nil {
		return nil, false, err
	}

	v, ok := root.dict[key]

	return v, ok, nil
}

// Has reports whether key is present.
func (c *Collection) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)

	return ok, err
}

// Set stores value under key, replacing any existing value.
func (c *Collection) Set(ctx context.Context, key string, value any) error {
	return c.mutate(ctx, func(root *Root) (bool, error) {
		if err := c.ensureShape(root, ShapeMap); err != nil {
			return false, err
		}

		root.dict[key] = cloneValue(value)

		return true, nil
	})
}

// SetMany stores every entry in one locked section.
func (c *Collection) SetMany(ctx context.Context, entries map[string]any) error {
	if len(entries) == 0 {
		return nil
	}

	return c.mutate(ctx, func(root *Root) (bool, error) {
		if err := c.ensureShape(root, ShapeMap); err != nil {
			return false, err
		}

		for key, value := range entries {
			root.dict[key] = cloneValue(value)
		}

		return true, nil
	})
}

// UpdateKey deep-merges partial onto the map value stored under key and
// returns the result. A no-op (false) when the key is absent;
// [ErrPathType] when the stored value is not a map.
func (c *Collection) UpdateKey(ctx context.Context, key string, partial Record) (Record, bool, error) {
	var (
		updated Record
		found   bool
	)

	err := c.mutate(ctx, func(root *Root) (bool, error) {
		if err := c.checkShape(*root, ShapeMap); err != nil {
			return false, err
		}

		if root.shape == ShapeNone {
			return false, nil
		}

		cur, ok := root.dict[key]
		if !ok {
			return false, nil
		}

		m, isMap := asMap(cur)
		if !isMap {
			return false, errPathTypef("value at %q is %T, not a map", key, cur)
		}

		merged := deepMerge(m, partial)
		root.dict[key] = merged
		updated = Record(merged)
		found = true

		return true, nil
	})
	if err != nil {
		return nil, false, err
	}

	return updated, found, nil
}

// RemoveKey deletes the entry under key, reporting whether one existed.
func (c *Collection) RemoveKey(ctx context.Context, key string) (bool, error) {
	var found bool

	err := c.mutate(ctx, func(root *Root) (bool, error) {
		if err := c.checkShape(*root, ShapeMap); err != nil {
			return false, err
		}

		if root.shape == ShapeNone {
			return false, nil
		}

		if _, ok := root.dict[key]; !ok {
			return false, nil
		}

		delete(root.dict, key)
		found = true

		return true, nil
	})
	if err != nil {
		return false, err
	}

	return found, nil
}

// ---- Deep-path operations ----

// GetIn returns the value at a dot-separated path. On a list collection
// the first segment is a record position.
func (c *Collection) GetIn(ctx context.Context, path string) (any, bool, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, false, err
	}

	root, err := c.read(ctx)
	if err != nil {
		return nil, false, err
	}

	v, ok := rootGet(root, segs)

	return v, ok, nil
}

// SetIn writes value at a path, creating intermediate containers along the
// way: maps for name segments, nil-padded lists for numeric segments.
// Descending into an existing non-container is [ErrPathType].
func (c *Collection) SetIn(ctx context.Context, path string, value any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	return c.mutate(ctx, func(root *Root) (bool, error) {
		c.materializeForPath(root, segs)

		if err := rootSet(root, segs, value); err != nil {
			return false, err
		}

		return true, nil
	})
}

// MergeIn deep-merges partial into the map at a path. An absent target is
// created; a non-map target is [ErrPathType].
func (c *Collection) MergeIn(ctx context.Context, path string, partial Record) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	return c.mutate(ctx, func(root *Root) (bool, error) {
		c.materializeForPath(root, segs)

		if err := rootMerge(root, segs, partial); err != nil {
			return false, err
		}

		return true, nil
	})
}

// PushIn appends values to the list at a path. An absent target becomes an
// empty list first; a non-list target is [ErrPathType], never coerced.
func (c *Collection) PushIn(ctx context.Context, path string, values ...any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	return c.mutate(ctx, func(root *Root) (bool, error) {
		c.materializeForPath(root, segs)

		if err := rootPush(root, segs, values); err != nil {
			return false, err
		}

		return true, nil
	})
}

// PullIn removes every element of the list at a path that compares
// deep-equal to one of the given values. An absent target is a no-op.
func (c *Collection) PullIn(ctx context.Context, path string, values ...any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	return c.mutate(ctx, func(root *Root) (bool, error) {
		if root.shape == ShapeNone {
			return false, nil
		}

		removed, err := rootPull(root, segs, values)
		if err != nil {
			return false, err
		}

		return removed > 0, nil
	})
}

// DeleteIn removes the key or element at a path, reporting whether
// anything was removed. Absent paths are a no-op.
func (c *Collection) DeleteIn(ctx context.Context, path string) (bool, error) {
	segs, err := splitPath(path)
	if err != nil {
		return false, err
	}

	var removed bool

	err = c.mutate(ctx, func(root *Root) (bool, error) {
		if root.shape == ShapeNone {
			return false, nil
		}

		var derr error

		removed, derr = rootDelete(root, segs)
		if derr != nil {
			return false, derr
		}

		return removed, nil
	})
	if err != nil {
		return false, err
	}

	return removed, nil
}

// UpdateIn transforms the value at a path under the lock. fn receives the
// current value (nil when absent) and its return value is written back.
func (c *Collection) UpdateIn(ctx context.Context, path string, fn func(any) (any, error)) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}

	return c.mutate(ctx, func(root *Root) (bool, error) {
		c.materializeForPath(root, segs)

		if err := rootApply(root, segs, fn); err != nil {
			return false, err
		}

		return true, nil
	})
}
