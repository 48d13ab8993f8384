package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/tablewise/dashsync/internal/cache"
)

// namespace for durable operation history in the cache store
const historyNamespace = "ophistory"

// CacheHistoryStore persists applied operations into the cache store,
// keyed by document and sequence, so a restarted instance (or an
// audit reader) can recover the recent log. Entries age out with the
// configured retention.
type CacheHistoryStore struct {
	cache     *cache.Cache
	retention time.Duration
}

func NewCacheHistoryStore(c *cache.Cache, retention time.Duration) *CacheHistoryStore {
	return &CacheHistoryStore{cache: c, retention: retention}
}

func (s *CacheHistoryStore) AppendOperation(ctx context.Context, op Operation, seq int64) error {
	key := fmt.Sprintf("%s:%010d", op.DocumentID, seq)

	return s.cache.SetWithTTL(ctx, historyNamespace, key, op, s.retention)
}

// drops every persisted operation for a document, used after a
// session is evicted and its state checkpointed
func (s *CacheHistoryStore) Purge(ctx context.Context, documentID string) int64 {
	return s.cache.InvalidatePattern(ctx, historyNamespace, documentID+":*")
}
