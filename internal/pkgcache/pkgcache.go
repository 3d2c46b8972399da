// Package pkgcache is the package cache (C3): a content-addressed,
// disk-backed, size-bounded cache mapping a function's active version to a
// verified on-disk extraction. Concurrent callers observing the same
// (function_id, package_hash) fingerprint collapse onto a single populator;
// callers holding a handle prevent their entry from being evicted.
//
// Grounded on the teacher's host-side LayerCache (content-hash keyed map
// under an RWMutex, hard-link-then-copy population) generalized from a
// hard-link dedup cache into a fetch-extract-verify-evict state machine, and
// on the removed warm-VM pool's acquisition loop for the single-populator-
// per-key collapsing pattern (there expressed with a condition variable and
// an internal singleflight package; here expressed with the canonical
// golang.org/x/sync/singleflight, the pool's unavailable singleflight
// package substituted one-for-one since it implements the exact same
// collapsing contract).
package pkgcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/novacore/novacore/internal/apperr"
	"github.com/novacore/novacore/internal/blobstore"
	"github.com/novacore/novacore/internal/logging"
	"golang.org/x/sync/singleflight"
)

// State is a cache entry's population state.
type State int

const (
	StateAbsent State = iota
	StatePopulating
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "Absent"
	case StatePopulating:
		return "Populating"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// entry is one function_id's cache slot. Guarded by Cache.mu.
//
// rootPath is versioned by packageHash (CacheDir/functionID/packageHash), not
// just by functionID: a stale-hash repopulation must never touch the
// directory a still-held Handle from the previous version points at. An
// entry superseded by a newer populate for the same functionID is marked
// retired rather than deleted outright; its directory is only removed once
// its handle count drains to zero, by whichever of populate or releaseEntry
// observes that transition.
type entry struct {
	functionID  string
	version     int
	packageHash string
	rootPath    string
	totalSize   int64
	lastAccess  time.Time
	accessCount int64
	state       State
	handles     int // outstanding CacheHandles; eviction forbidden while > 0
	retired     bool
}

// Handle grants the holder the right to read root_path; it must be
// released when the invocation using it is done, or the entry can never be
// evicted.
type Handle struct {
	RootPath string
	// CacheHit reports whether this handle was served by the fast path
	// (entry already Ready) rather than by a populate triggered by this
	// call or one it collapsed onto via singleflight.
	CacheHit bool
	release  func()
	released int32
}

// Release is idempotent; calling it more than once is a no-op.
func (h *Handle) Release() {
	if atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		h.release()
	}
}

// Config controls the cache's disk footprint and eviction thresholds.
type Config struct {
	CacheDir           string
	HighWaterMarkBytes int64
}

// Cache is the package cache. One Cache instance is shared across all
// invocations in the process.
type Cache struct {
	cfg     Config
	fetcher blobstore.Fetcher

	mu      sync.Mutex
	entries map[string]*entry

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

func New(cfg Config, fetcher blobstore.Fetcher) *Cache {
	return &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		entries: make(map[string]*entry),
	}
}

// fingerprint returns the singleflight key for (function_id, package_hash):
// the at-most-one-populator-per-fingerprint unit from the spec.
func fingerprint(functionID, packageHash string) string {
	return functionID + "|" + packageHash
}

// Ensure implements the C3 contract. On success the returned Handle's
// RootPath contains index.js at its top level; the caller must call
// Release when done with it.
func (c *Cache) Ensure(ctx context.Context, functionID string, version int, packageHash, packagePath string, expectedSize int64) (*Handle, error) {
	if h, ok := c.tryFastPath(functionID, packageHash); ok {
		return h, nil
	}

	c.misses.Add(1)
	key := fingerprint(functionID, packageHash)
	_, err, _ := c.group.Do(key, func() (interface{}, error) {
		return nil, c.populate(ctx, functionID, version, packageHash, packagePath, expectedSize)
	})
	if err != nil {
		return nil, err
	}

	if h, ok := c.tryFastPathNoHitCount(functionID, packageHash); ok {
		return h, nil
	}
	return nil, apperr.New(apperr.KindBadPackage, "package cache: entry not ready after populate")
}

// tryFastPath returns a Handle without going through singleflight when the
// entry is already Ready for the requested hash (the common, hot-path case).
func (c *Cache) tryFastPath(functionID, packageHash string) (*Handle, bool) {
	h, ok := c.acquireReady(functionID, packageHash)
	if ok {
		c.hits.Add(1)
		h.CacheHit = true
	}
	return h, ok
}

// tryFastPathNoHitCount acquires a Ready entry without touching the hit
// counter: used right after a populate this call triggered or collapsed
// onto, which was already counted as a miss.
func (c *Cache) tryFastPathNoHitCount(functionID, packageHash string) (*Handle, bool) {
	return c.acquireReady(functionID, packageHash)
}

func (c *Cache) acquireReady(functionID, packageHash string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[functionID]
	if !ok || e.state != StateReady || e.packageHash != packageHash {
		return nil, false
	}
	e.lastAccess = time.Now()
	e.accessCount++
	e.handles++
	root := e.rootPath
	return &Handle{RootPath: root, release: c.releaseEntry(e)}, true
}

// releaseEntry decrements the specific entry the Handle was issued against,
// captured directly by pointer rather than re-resolved by functionID: by the
// time a handle is released, c.entries[functionID] may already hold a newer
// entry for a repopulated hash, and decrementing that one instead would both
// under-count the old entry's outstanding handles and corrupt the new
// entry's count. If the entry has since been retired (superseded by a newer
// populate) and this was its last handle, its directory is removed here.
func (c *Cache) releaseEntry(e *entry) func() {
	return func() {
		c.mu.Lock()
		if e.handles > 0 {
			e.handles--
		}
		shouldRemove := e.retired && e.handles == 0
		path := e.rootPath
		c.mu.Unlock()

		if shouldRemove {
			if err := removeAll(path); err != nil {
				logging.Op().Warn("retired cache entry cleanup failed", "function_id", e.functionID, "path", path, "err", err)
			}
		}
	}
}

// Stats is the C7-facing snapshot of cache occupancy and hit/miss counters.
type Stats struct {
	EntryCount int64
	TotalSize  int64
	Hits       int64
	Misses     int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, e := range c.entries {
		if e.state == StateReady {
			total += e.totalSize
		}
	}
	return Stats{
		EntryCount: int64(len(c.entries)),
		TotalSize:  total,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
	}
}

// Evict removes one function_id's entry. Fails with Busy if handles are
// outstanding.
func (c *Cache) Evict(functionID string) error {
	c.mu.Lock()
	e, ok := c.entries[functionID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if e.handles > 0 {
		c.mu.Unlock()
		return apperr.New(apperr.KindBusy, fmt.Sprintf("function %s has %d outstanding invocations", functionID, e.handles))
	}
	delete(c.entries, functionID)
	c.mu.Unlock()

	if e.rootPath != "" {
		if err := removeAll(e.rootPath); err != nil {
			logging.Op().Warn("evict: remove root path failed", "function_id", functionID, "path", e.rootPath, "err", err)
		}
	}
	return nil
}

// Cleanup runs an eviction pass over all zero-handle Ready entries whose
// combined size exceeds the configured high-water mark, oldest/coldest
// first by ascending (last_access, access_count).
func (c *Cache) Cleanup() (evicted int, freedBytes int64, err error) {
	if c.cfg.HighWaterMarkBytes <= 0 {
		return 0, 0, nil
	}

	c.mu.Lock()
	var candidates []*entry
	var total int64
	for _, e := range c.entries {
		if e.state == StateReady {
			total += e.totalSize
		}
		if e.state == StateReady && e.handles == 0 {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastAccess.Equal(candidates[j].lastAccess) {
			return candidates[i].accessCount < candidates[j].accessCount
		}
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	var toRemove []*entry
	for _, e := range candidates {
		if total <= c.cfg.HighWaterMarkBytes {
			break
		}
		toRemove = append(toRemove, e)
		total -= e.totalSize
		freedBytes += e.totalSize
		delete(c.entries, e.functionID)
	}
	c.mu.Unlock()

	for _, e := range toRemove {
		if rmErr := removeAll(e.rootPath); rmErr != nil {
			logging.Op().Warn("cleanup: remove root path failed", "function_id", e.functionID, "err", rmErr)
		}
	}
	return len(toRemove), freedBytes, nil
}
