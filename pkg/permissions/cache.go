package permissions

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// SnapshotCache memoizes computed UserPermissions per user. Implementations
// carry a monotonically increasing rule-set version: invalidating everything
// is a version bump, and a stale entry is detected by version mismatch on
// read instead of every mutation path having to walk and clear entries.
type SnapshotCache interface {
	// Get returns the cached snapshot for userID if present and current.
	Get(ctx context.Context, userID string) (*UserPermissions, bool)

	// Put stores a snapshot. Snapshots stamped with an older rule version
	// than the cache's current one are ignored.
	Put(ctx context.Context, snapshot *UserPermissions)

	// InvalidateUser drops one user's entry.
	InvalidateUser(ctx context.Context, userID string)

	// InvalidateAll bumps the rule-set version, staling every entry at once.
	InvalidateAll(ctx context.Context)

	// RuleVersion returns the current rule-set version.
	RuleVersion(ctx context.Context) uint64

	// Stats returns approximate counters for operational visibility.
	Stats(ctx context.Context) CacheStats
}

// MemoryCache is an in-process SnapshotCache on an expirable LRU.
type MemoryCache struct {
	cache   *lru.LRU[string, *UserPermissions]
	version atomic.Uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewMemoryCache creates a memory cache holding up to maxEntries snapshots,
// each expiring after ttl. A ttl of zero disables expiry.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c := &MemoryCache{}
	c.cache = lru.NewLRU[string, *UserPermissions](maxEntries, func(string, *UserPermissions) {
		c.evictions.Add(1)
	}, ttl)
	c.version.Store(1)
	return c
}

// Get returns the cached snapshot if present and stamped with the current
// rule version. Stale entries are evicted on sight.
func (c *MemoryCache) Get(_ context.Context, userID string) (*UserPermissions, bool) {
	snapshot, ok := c.cache.Get(userID)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if snapshot.RuleVersion != c.version.Load() {
		c.cache.Remove(userID)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return snapshot, true
}

// Put stores a snapshot unless it was computed against an older rule set.
func (c *MemoryCache) Put(_ context.Context, snapshot *UserPermissions) {
	if snapshot == nil || snapshot.RuleVersion != c.version.Load() {
		return
	}
	c.cache.Add(snapshot.UserID, snapshot)
}

// InvalidateUser drops one user's entry.
func (c *MemoryCache) InvalidateUser(_ context.Context, userID string) {
	c.cache.Remove(userID)
}

// InvalidateAll bumps the rule-set version. Existing entries become stale and
// fall out on next read or by LRU pressure; no walk is needed.
func (c *MemoryCache) InvalidateAll(_ context.Context) {
	c.version.Add(1)
}

// RuleVersion returns the current rule-set version.
func (c *MemoryCache) RuleVersion(_ context.Context) uint64 {
	return c.version.Load()
}

// Stats returns cache counters.
func (c *MemoryCache) Stats(_ context.Context) CacheStats {
	return CacheStats{
		Entries:     c.cache.Len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		RuleVersion: c.version.Load(),
	}
}
