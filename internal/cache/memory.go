package cache

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// a single stored value with its optional expiry
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiration
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// implements Backend with an in-process map. Used in tests and as a
// local/degraded mode when no Redis is configured. Expired entries
// behave as misses immediately; a janitor sweep reclaims the memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

// creates an in-memory backend with a background janitor sweep
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}

	go b.janitor(time.Minute)

	return b
}

// periodically purges expired entries
func (b *MemoryBackend) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()

			b.mu.Lock()
			for key, entry := range b.entries {
				if entry.expired(now) {
					delete(b.entries, key)
				}
			}
			b.mu.Unlock()

		case <-b.done:
			return
		}
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return nil, false, nil
	}

	return entry.value, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	b.mu.Lock()
	b.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	b.mu.Unlock()

	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return false, nil
	}

	delete(b.entries, key)

	// deleting an already-expired entry is a miss from the caller's view
	if entry.expired(time.Now()) {
		return false, nil
	}

	return true, nil
}

func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	return ok && !entry.expired(time.Now()), nil
}

func (b *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok || entry.expired(time.Now()) {
		return false, nil
	}

	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	} else {
		entry.expiresAt = time.Time{}
	}

	b.entries[key] = entry
	return true, nil
}

func (b *MemoryBackend) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))

	for _, key := range keys {
		if value, ok, _ := b.Get(ctx, key); ok {
			result[key] = value
		}
	}

	return result, nil
}

func (b *MemoryBackend) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	for key, value := range entries {
		if err := b.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}

	return nil
}

func (b *MemoryBackend) IncrBy(_ context.Context, key string, amount int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := int64(0)

	entry, ok := b.entries[key]
	if ok && !entry.expired(time.Now()) {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, ErrNotNumeric
		}

		current = parsed
	}

	current += amount

	// keep the existing expiry, matching redis INCRBY semantics
	entry.value = []byte(strconv.FormatInt(current, 10))
	if !ok {
		entry.expiresAt = time.Time{}
	}
	b.entries[key] = entry

	return current, nil
}

func (b *MemoryBackend) DeletePattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var removed int64

	for key, entry := range b.entries {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return removed, err
		}

		if !matched {
			continue
		}

		delete(b.entries, key)

		if !entry.expired(now) {
			removed++
		}
	}

	return removed, nil
}

func (b *MemoryBackend) Ping(_ context.Context) error {
	return nil
}

func (b *MemoryBackend) Close() error {
	b.once.Do(func() {
		close(b.done)
	})

	return nil
}
