package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tablewise/dashsync/internal/logger"
)

// Cache is a namespaced key/value store with TTL, pattern invalidation
// and pluggable serialization. Backend failures degrade gracefully: a
// failed read is a miss, a failed write is reported but never fatal.
type Cache struct {
	backend    Backend
	serializer Serializer
	defaultTTL time.Duration

	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	errs    atomic.Uint64
}

// creates a cache over the given backend with JSON serialization.
// defaultTTL applies to Set calls; pass 0 for "entries never expire
// unless the caller says otherwise".
func New(backend Backend, defaultTTL time.Duration) *Cache {
	return &Cache{
		backend:    backend,
		serializer: JSONSerializer{},
		defaultTTL: defaultTTL,
	}
}

// returns a view of the cache using a different serializer.
// the view shares the backend and the stat counters.
func (c *Cache) WithSerializer(s Serializer) *Cache {
	view := *c
	view.serializer = s
	return &view
}

// builds the physical backend key from namespace and key
func qualify(namespace, key string) string {
	return namespace + ":" + key
}

// retrieves and deserializes the value at (namespace, key) into dest.
// returns false on miss; backend and deserialization failures are
// degraded to misses so the caller can recompute.
func (c *Cache) Get(ctx context.Context, namespace, key string, dest any) bool {
	data, found, err := c.backend.Get(ctx, qualify(namespace, key))
	if err != nil {
		c.errs.Add(1)
		c.misses.Add(1)
		logger.Warn("cache get failed, treating as miss", "namespace", namespace, "key", key, "error", err)
		return false
	}

	if !found {
		c.misses.Add(1)
		return false
	}

	if err := c.serializer.Unmarshal(data, dest); err != nil {
		c.errs.Add(1)
		c.misses.Add(1)
		logger.Warn("cache value failed to deserialize, treating as miss", "namespace", namespace, "key", key, "error", err)
		return false
	}

	c.hits.Add(1)
	return true
}

// stores value at (namespace, key) with the configured default TTL
func (c *Cache) Set(ctx context.Context, namespace, key string, value any) error {
	return c.SetWithTTL(ctx, namespace, key, value, c.defaultTTL)
}

// stores value with an explicit TTL. ttl <= 0 means the entry never
// expires. Overwrites any existing entry at the key.
func (c *Cache) SetWithTTL(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	data, err := c.serializer.Marshal(value)
	if err != nil {
		c.errs.Add(1)
		return err
	}

	if err := c.backend.Set(ctx, qualify(namespace, key), data, normalizeTTL(ttl)); err != nil {
		c.errs.Add(1)
		logger.Warn("cache set failed", "namespace", namespace, "key", key, "error", err)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	c.sets.Add(1)
	return nil
}

// removes the entry at (namespace, key); reports whether it existed
func (c *Cache) Delete(ctx context.Context, namespace, key string) bool {
	deleted, err := c.backend.Delete(ctx, qualify(namespace, key))
	if err != nil {
		c.errs.Add(1)
		logger.Warn("cache delete failed", "namespace", namespace, "key", key, "error", err)
		return false
	}

	if deleted {
		c.deletes.Add(1)
	}

	return deleted
}

// reports whether a live entry exists at (namespace, key)
func (c *Cache) Exists(ctx context.Context, namespace, key string) bool {
	found, err := c.backend.Exists(ctx, qualify(namespace, key))
	if err != nil {
		c.errs.Add(1)
		return false
	}

	return found
}

// updates the TTL of an existing entry without touching its value.
// ttl <= 0 removes the expiration.
func (c *Cache) Expire(ctx context.Context, namespace, key string, ttl time.Duration) bool {
	ok, err := c.backend.Expire(ctx, qualify(namespace, key), normalizeTTL(ttl))
	if err != nil {
		c.errs.Add(1)
		logger.Warn("cache expire failed", "namespace", namespace, "key", key, "error", err)
		return false
	}

	return ok
}

// fetches multiple keys at once; only hits appear in the result, which
// maps key to its still-serialized value (decode with Unmarshal)
func (c *Cache) GetMany(ctx context.Context, namespace string, keys []string) map[string][]byte {
	qualified := make([]string, len(keys))
	for i, k := range keys {
		qualified[i] = qualify(namespace, k)
	}

	raw, err := c.backend.GetMany(ctx, qualified)
	if err != nil {
		c.errs.Add(1)
		c.misses.Add(uint64(len(keys)))
		logger.Warn("cache multi-get failed, treating all as misses", "namespace", namespace, "error", err)
		return map[string][]byte{}
	}

	result := make(map[string][]byte, len(raw))
	for i, k := range keys {
		if data, ok := raw[qualified[i]]; ok {
			result[k] = data
			c.hits.Add(1)
		} else {
			c.misses.Add(1)
		}
	}

	return result
}

// stores multiple entries with a shared TTL (ttl <= 0 means no
// expiration). A value that fails to serialize is skipped so the rest
// still land; the error reports how many were dropped.
func (c *Cache) SetMany(ctx context.Context, namespace string, values map[string]any, ttl time.Duration) error {
	entries := make(map[string][]byte, len(values))
	skipped := 0

	for k, v := range values {
		data, err := c.serializer.Marshal(v)
		if err != nil {
			c.errs.Add(1)
			skipped++
			logger.Warn("cache multi-set skipping unserializable value", "namespace", namespace, "key", k, "error", err)
			continue
		}

		entries[qualify(namespace, k)] = data
	}

	if len(entries) > 0 {
		if err := c.backend.SetMany(ctx, entries, normalizeTTL(ttl)); err != nil {
			c.errs.Add(1)
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}

		c.sets.Add(uint64(len(entries)))
	}

	if skipped > 0 {
		return fmt.Errorf("%w: %d of %d entries skipped", ErrNotSerializable, skipped, len(values))
	}

	return nil
}

// removes every key in the namespace matching a glob-style pattern
// (e.g. "dashboard:*"); returns how many entries were removed
func (c *Cache) InvalidatePattern(ctx context.Context, namespace, pattern string) int64 {
	removed, err := c.backend.DeletePattern(ctx, qualify(namespace, pattern))
	if err != nil {
		c.errs.Add(1)
		logger.Warn("cache pattern invalidation failed", "namespace", namespace, "pattern", pattern, "error", err)
		return 0
	}

	c.deletes.Add(uint64(removed))
	return removed
}

// atomically increments the numeric value at (namespace, key) by
// amount, creating it at zero if absent. Fails with ErrNotNumeric if
// the existing value is not an integer.
func (c *Cache) Increment(ctx context.Context, namespace, key string, amount int64) (int64, error) {
	value, err := c.backend.IncrBy(ctx, qualify(namespace, key), amount)
	if err != nil {
		c.errs.Add(1)
		return 0, err
	}

	c.sets.Add(1)
	return value, nil
}

// decodes a serialized value returned by GetMany
func (c *Cache) Unmarshal(data []byte, dest any) error {
	return c.serializer.Unmarshal(data, dest)
}

// reports whether the backend is reachable
func (c *Cache) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

// releases backend resources
func (c *Cache) Close() error {
	return c.backend.Close()
}

// returns the running operation counters and computed hit rate
func (c *Cache) GetStats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errs.Load(),
		HitRate: rate,
	}
}

// maps "no expiration" requests (ttl <= 0) to the zero duration
// backends understand
func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}

	return ttl
}
