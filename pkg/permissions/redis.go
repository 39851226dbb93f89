package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisSnapshotKeyPrefix = "permissions:snapshot:"
	redisVersionKey        = "permissions:rule_version"
)

// RedisCache is a SnapshotCache shared across server instances. Snapshots are
// stored as JSON with a per-entry TTL; the rule-set version lives in a single
// Redis key bumped with INCR, so invalidation is one round trip and every
// instance observes it. Redis failures degrade to cache misses — a failed
// cache never fails a permission check.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisCache creates a Redis snapshot cache and verifies connectivity.
func NewRedisCache(client *redis.Client, ttl time.Duration) (*RedisCache, error) {
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns the cached snapshot if present, decodable, and current.
func (c *RedisCache) Get(ctx context.Context, userID string) (*UserPermissions, bool) {
	payload, err := c.client.Get(ctx, redisSnapshotKeyPrefix+userID).Result()
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	var snapshot UserPermissions
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		c.client.Del(ctx, redisSnapshotKeyPrefix+userID)
		c.misses.Add(1)
		return nil, false
	}

	if snapshot.RuleVersion != c.RuleVersion(ctx) {
		c.client.Del(ctx, redisSnapshotKeyPrefix+userID)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &snapshot, true
}

// Put stores a snapshot with the configured TTL. Serialization or transport
// errors are swallowed; the next read simply recomputes.
func (c *RedisCache) Put(ctx context.Context, snapshot *UserPermissions) {
	if snapshot == nil || snapshot.RuleVersion != c.RuleVersion(ctx) {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	c.client.Set(ctx, redisSnapshotKeyPrefix+snapshot.UserID, payload, c.ttl)
}

// InvalidateUser drops one user's entry.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) {
	c.client.Del(ctx, redisSnapshotKeyPrefix+userID)
}

// InvalidateAll bumps the shared rule-set version.
func (c *RedisCache) InvalidateAll(ctx context.Context) {
	c.client.Incr(ctx, redisVersionKey)
}

// RuleVersion returns the shared rule-set version, initializing it on first
// use. On Redis failure it returns 0, which never matches a stored snapshot,
// so a flapping Redis degrades to recomputation rather than staleness.
func (c *RedisCache) RuleVersion(ctx context.Context) uint64 {
	value, err := c.client.Get(ctx, redisVersionKey).Result()
	if err == redis.Nil {
		c.client.SetNX(ctx, redisVersionKey, "1", 0)
		return 1
	}
	if err != nil {
		return 0
	}
	version, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return version
}

// Stats returns approximate counters. Entry count scans the snapshot
// keyspace and is advisory only.
func (c *RedisCache) Stats(ctx context.Context) CacheStats {
	stats := CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		RuleVersion: c.RuleVersion(ctx),
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, redisSnapshotKeyPrefix+"*", 256).Result()
		if err != nil {
			break
		}
		stats.Entries += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats
}
