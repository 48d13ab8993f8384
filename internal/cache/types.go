package cache

import (
	"context"
	"errors"
	"time"
)

// cache errors
var (
	// the existing value at the key cannot be incremented
	ErrNotNumeric = errors.New("value is not numeric")

	// the serializer cannot handle the supplied value
	ErrNotSerializable = errors.New("value is not serializable")

	// the backend is unreachable or misbehaving
	ErrBackendUnavailable = errors.New("cache backend unavailable")
)

// storage primitives every cache backend must provide.
// keys arriving here are fully qualified (namespace already applied),
// values are opaque serialized bytes.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, amount int64) (int64, error)
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// point-in-time operation counters for observability
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}
