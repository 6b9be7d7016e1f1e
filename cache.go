package dirstore

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// CacheMode selects the cache policy.
type CacheMode uint8

const (
	// CacheAll keeps every touched collection resident with no eviction.
	// The default.
	CacheAll CacheMode = iota

	// CacheOff disables the cache; every read loads from the backend.
	CacheOff

	// CacheTTL treats entries older than [CacheConfig.TTL] as misses and
	// expires them out.
	CacheTTL

	// CacheLRU bounds the cache by [CacheConfig.MaxEntries] and
	// [CacheConfig.MaxBytes], evicting least-recently-used entries.
	CacheLRU
)

func (m CacheMode) String() string {
	switch m {
	case CacheOff:
		return "off"
	case CacheTTL:
		return "ttl"
	case CacheLRU:
		return "lru"
	default:
		return "all"
	}
}

// CacheConfig configures the store's read cache.
type CacheConfig struct {
	Mode CacheMode

	// TTL is the entry lifetime under [CacheTTL].
	TTL time.Duration

	// MaxEntries bounds the entry count under [CacheLRU]. Zero means
	// unbounded.
	MaxEntries int

	// MaxBytes bounds the total encoded size under [CacheLRU]. Zero means
	// unbounded.
	MaxBytes int64
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	Entries     int
	Bytes       int64
}

// EntryStats describes one resident cache entry.
type EntryStats struct {
	Name     string
	Accesses int64
	Bytes    int64
	Age      time.Duration
}

type cacheEntry struct {
	name     string
	root     Root
	size     int64
	mtime    time.Time
	loaded   time.Time
	expires  time.Time
	accesses int64
}

// cache maps collection names to decoded roots.
//
// Budget enforcement under [CacheLRU] is lazy: admission trims existing
// entries to the budget first and then inserts, so the newest entry may
// overshoot by one until a later access trims again. A hit moves its entry
// to the front before trimming, which is what lets a hot entry survive a
// one-entry budget while the colder one is evicted.
//
// Roots are deep-copied on the way in and on the way out; no caller ever
// aliases cached state.
type cache struct {
	cfg CacheConfig
	now func() time.Time

	mu          sync.Mutex
	ll          *list.List // front is most recently used
	byName      map[string]*list.Element
	bytes       int64
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

func newCache(cfg CacheConfig) *cache {
	return &cache{
		cfg:    cfg,
		now:    time.Now,
		ll:     list.New(),
		byName: make(map[string]*list.Element),
	}
}

// get returns a deep copy of the cached root for name.
func (c *cache) get(name string) (Root, bool) {
	if c.cfg.Mode == CacheOff {
		return Root{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byName[name]
	if !ok {
		c.misses++

		return Root{}, false
	}

	e := el.Value.(*cacheEntry)

	if c.cfg.Mode == CacheTTL && !e.expires.IsZero() && c.now().After(e.expires) {
		c.removeLocked(el)
		c.expirations++
		c.misses++

		return Root{}, false
	}

	c.hits++
	e.accesses++
	c.ll.MoveToFront(el)

	// Clone before trimming: with a byte budget smaller than this entry
	// the trim may evict the entry just served.
	root := e.root.clone()

	c.trimLocked()

	return root, true
}

// put stores a root under name, replacing any existing entry.
func (c *cache) put(name string, root Root, size int64, mtime time.Time) {
	if c.cfg.Mode == CacheOff {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	var expires time.Time
	if c.cfg.Mode == CacheTTL && c.cfg.TTL > 0 {
		expires = now.Add(c.cfg.TTL)
	}

	if el, ok := c.byName[name]; ok {
		e := el.Value.(*cacheEntry)
		c.bytes += size - e.size
		e.root = root.clone()
		e.size = size
		e.mtime = mtime
		e.loaded = now
		e.expires = expires
		c.ll.MoveToFront(el)

		return
	}

	c.trimLocked()

	e := &cacheEntry{
		name:    name,
		root:    root.clone(),
		size:    size,
		mtime:   mtime,
		loaded:  now,
		expires: expires,
	}
	c.byName[name] = c.ll.PushFront(e)
	c.bytes += size
}

// invalidate drops the named entries, or every entry when no names are
// given. Manual invalidation is not counted as eviction.
func (c *cache) invalidate(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(names) == 0 {
		c.ll.Init()
		c.byName = make(map[string]*list.Element)
		c.bytes = 0

		return
	}

	for _, name := range names {
		if el, ok := c.byName[name]; ok {
			c.removeLocked(el)
		}
	}
}

// mtimeOf returns the file mtime recorded when the entry was cached.
func (c *cache) mtimeOf(name string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byName[name]
	if !ok {
		return time.Time{}, false
	}

	return el.Value.(*cacheEntry).mtime, true
}

// stats returns a snapshot of the counters.
func (c *cache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Entries:     c.ll.Len(),
		Bytes:       c.bytes,
	}
}

// top returns up to n resident entries ordered by access count. A
// non-positive n returns every entry.
func (c *cache) top(n int) []EntryStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]EntryStats, 0, c.ll.Len())

	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*cacheEntry)
		out = append(out, EntryStats{
			Name:     e.name,
			Accesses: e.accesses,
			Bytes:    e.size,
			Age:      now.Sub(e.loaded),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Accesses > out[j].Accesses })

	if n > 0 && len(out) > n {
		out = out[:n]
	}

	return out
}

func (c *cache) overBudgetLocked() bool {
	if c.cfg.Mode != CacheLRU {
		return false
	}

	if c.cfg.MaxEntries > 0 && c.ll.Len() > c.cfg.MaxEntries {
		return true
	}

	if c.cfg.MaxBytes > 0 && c.bytes > c.cfg.MaxBytes {
		return true
	}

	return false
}

func (c *cache) trimLocked() {
	for c.overBudgetLocked() {
		back := c.ll.Back()
		if back == nil {
			return
		}

		c.removeLocked(back)
		c.evictions++
	}
}

func (c *cache) removeLocked(el *list.Element) {
	e := el.Value.(*cacheEntry)
	c.ll.Remove(el)
	delete(c.byName, e.name)
	c.bytes -= e.size
}
