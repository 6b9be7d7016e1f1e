// Package dirstore is an embedded collection store backed by plain JSON
// files: one file per collection under a base directory, human-readable
// and hand-editable while a program has the store open.
//
// # Collections and Shapes
//
// A collection is either a list of records (JSON array of objects, each
// with a unique int64 "id") or a map of entries (JSON object). The shape
// is fixed by the first write that materializes the collection; from then
// on operations of the other shape return [ErrShape]. Numbers are
// canonicalized on the way in: integral values become int64, fractional
// values float64.
//
//	store, err := dirstore.Open(dirstore.Config{BaseDir: "data"})
//	if err != nil {
//		...
//	}
//	defer store.Close()
//
//	tasks, err := store.Collection("tasks")
//	if err != nil {
//		...
//	}
//
//	rec, err := tasks.Insert(ctx, dirstore.Record{"title": "ship it"})
//	// data/tasks.json now holds [{"id":1,"title":"ship it"}]
//
// # Concurrency
//
// Reads never block: they serve from the cache or load the file. Writes
// to the same collection are serialized in strict arrival order by an
// in-process FIFO queue, and every write lands through an atomic
// write-to-temp-then-rename, so the file on disk is always one complete
// snapshot. With [Config.FileLock] a pid sentinel file additionally
// fences writers in other processes; acquisition that outlives
// [Config.LockTimeout] fails with [ErrLockTimeout].
//
// # Caching
//
// Decoded roots are cached per collection. The default keeps everything;
// [CacheTTL] expires entries after [CacheConfig.TTL]; [CacheLRU] evicts
// least-recently-used entries over the entry or byte budget; [CacheOff]
// disables caching. [Store.CacheStats] and [Store.TopAccessed] expose
// counters, [Store.Warm] and [Store.WarmTop] preload collections, and
// [Config.Watch] invalidates entries when another process rewrites a
// file.
//
// # External Collections
//
// Collections named in [Config.External] are served by a [Backend]
// (bbolt by default) instead of their JSON file. A failing backend falls
// back to the file per operation, so data stays reachable either way.
//
// # Error Handling
//
// Sentinel errors ([ErrClosed], [ErrShape], [ErrPath], [ErrPathType],
// [ErrLockTimeout], [ErrName]) classify failures; match them with
// errors.Is. A collection file that no longer parses is quarantined to a
// timestamped .corrupt- sibling and the collection continues empty, so
// one corrupt file never takes the store down.
package dirstore
