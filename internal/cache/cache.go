// Package cache is the process-wide TTL cache for extracted metadata. Entries
// live in memory and, when a Redis client is configured, are mirrored there
// so they survive restarts and are shared between replicas.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache maps keys to serialized values with a per-entry TTL. It is safe for
// concurrent use; a write replaces the whole entry so readers never observe a
// partially written value.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int

	remote    redis.UniversalClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithRedis mirrors entries into Redis under the given key namespace.
func WithRedis(client redis.UniversalClient, namespace string) Option {
	return func(c *Cache) {
		c.remote = client
		c.namespace = namespace
	}
}

// WithMaxEntries caps the in-memory tier. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithLogger sets the logger used for degraded Redis operation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key if it has not expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if now.Before(e.expiresAt) {
			return e.value, true
		}
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	if c.remote == nil {
		return nil, false
	}

	value, ttl, found := c.remoteGet(ctx, key)
	if !found {
		return nil, false
	}
	c.store(key, &entry{value: value, expiresAt: now.Add(ttl)})
	return value, true
}

// Set stores value under key for ttl. Non-positive TTLs are ignored.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.store(key, &entry{value: value, expiresAt: c.now().Add(ttl)})

	if c.remote != nil {
		if err := c.remote.Set(ctx, c.namespace+key, value, ttl).Err(); err != nil {
			c.logger.Warn("cache redis set failed", "key", key, "error", err)
		}
	}
}

// Invalidate removes every entry whose key starts with prefix and returns how
// many in-memory entries were dropped. An empty prefix clears the cache.
func (c *Cache) Invalidate(ctx context.Context, prefix string) int {
	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remoteInvalidate(ctx, prefix); err != nil {
			c.logger.Warn("cache redis invalidate failed", "prefix", prefix, "error", err)
		}
	}
	return removed
}

// Len reports the number of in-memory entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge drops expired in-memory entries and returns how many were removed.
func (c *Cache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(now)
}

// StartJanitor purges expired entries every interval until ctx is done.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Purge(); n > 0 {
					c.logger.Debug("cache purged expired entries", "count", n)
				}
			}
		}
	}()
}

func (c *Cache) store(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(c.now())
	}
	c.entries[key] = e
}

// evictLocked frees room for one entry: expired entries first, then the ones
// closest to expiry.
func (c *Cache) evictLocked(now time.Time) {
	if c.purgeLocked(now) > 0 && len(c.entries) < c.maxEntries {
		return
	}

	type candidate struct {
		key       string
		expiresAt time.Time
	}
	candidates := make([]candidate, 0, len(c.entries))
	for key, e := range c.entries {
		candidates = append(candidates, candidate{key: key, expiresAt: e.expiresAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiresAt.Before(candidates[j].expiresAt)
	})

	excess := len(c.entries) - c.maxEntries + 1
	for i := 0; i < excess && i < len(candidates); i++ {
		delete(c.entries, candidates[i].key)
	}
}

func (c *Cache) purgeLocked(now time.Time) int {
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// GetJSON decodes the value stored under key into a T.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("cache entry undecodable", "key", key, "error", err)
		return out, false
	}
	return out, true
}

// SetJSON encodes v and stores it under key for ttl.
func SetJSON(ctx context.Context, c *Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(ctx, key, raw, ttl)
	return nil
}
