package presence

import (
	"context"
	"sync"
	"time"

	"github.com/tablewise/dashsync/internal/cache"
	"github.com/tablewise/dashsync/internal/logger"
)

const (
	defaultIdleTimeout = 60 * time.Second

	sweepInterval = 15 * time.Second

	// cache namespace for per-document presence snapshots
	snapshotNamespace = "presence"
)

// Tracker keeps "who is here and what are they doing" per document,
// independent of document content. Entries are evicted on explicit
// leave or after the liveness timeout, which covers crashed tabs and
// dropped connections that never send a leave.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Entry // documentID -> userID -> entry

	idleTimeout time.Duration

	// best-effort snapshot mirror for out-of-band readers; may be nil
	cache *cache.Cache

	// invoked for each entry evicted by the liveness sweep
	onEvict func(documentID, userID string)

	done chan struct{}
	once sync.Once
}

// tunables and optional collaborators for the tracker
type Options struct {
	// entries idle for longer than this are treated as implicit
	// leaves (default 60s)
	IdleTimeout time.Duration

	// mirror of per-document snapshots; nil disables mirroring
	Cache *cache.Cache

	// called when the liveness sweep evicts an entry
	OnEvict func(documentID, userID string)
}

// creates a tracker and starts its liveness sweeper
func NewTracker(opts Options) *Tracker {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}

	t := &Tracker{
		entries:     make(map[string]map[string]*Entry),
		idleTimeout: opts.IdleTimeout,
		cache:       opts.Cache,
		onEvict:     opts.OnEvict,
		done:        make(chan struct{}),
	}

	go t.sweepStaleEntries()

	return t
}

// stops the background sweeper
func (t *Tracker) Shutdown() {
	t.once.Do(func() {
		close(t.done)
	})
}

// Join creates or refreshes the entry for (documentID, userID) and
// returns the full participant list so the joining client can render
// everyone immediately.
func (t *Tracker) Join(documentID, userID, username, avatarURL string) []Entry {
	t.mu.Lock()

	doc := t.entries[documentID]
	if doc == nil {
		doc = make(map[string]*Entry)
		t.entries[documentID] = doc
	}

	entry, ok := doc[userID]
	if !ok {
		entry = &Entry{
			UserID:     userID,
			DocumentID: documentID,
		}
		doc[userID] = entry
	}

	entry.Username = username
	entry.AvatarURL = avatarURL
	entry.LastSeen = time.Now()

	snapshot := collectLocked(doc)

	t.mu.Unlock()

	t.mirror(documentID, snapshot)

	return snapshot
}

// Leave drops the entry; a no-op if it was never there. Returns the
// remaining participants for broadcast purposes.
func (t *Tracker) Leave(documentID, userID string) []Entry {
	t.mu.Lock()

	doc := t.entries[documentID]
	if doc == nil {
		t.mu.Unlock()
		return nil
	}

	delete(doc, userID)

	var snapshot []Entry
	if len(doc) == 0 {
		delete(t.entries, documentID)
	} else {
		snapshot = collectLocked(doc)
	}

	t.mu.Unlock()

	t.mirror(documentID, snapshot)

	return snapshot
}

// UpdateCursor overwrites the cursor for (documentID, userID) and
// refreshes liveness. Fire-and-forget: unknown users are ignored.
func (t *Tracker) UpdateCursor(documentID, userID string, cursor Cursor) {
	t.touch(documentID, userID, func(e *Entry) {
		e.Cursor = &cursor
	})
}

// UpdateActivity overwrites the activity with the same replace
// semantics as cursor updates
func (t *Tracker) UpdateActivity(documentID, userID, action, elementID string) {
	now := time.Now()

	t.touch(documentID, userID, func(e *Entry) {
		e.Activity = &Activity{
			Action:    action,
			ElementID: elementID,
			Timestamp: now,
		}
	})
}

// Heartbeat refreshes liveness without changing cursor or activity
func (t *Tracker) Heartbeat(documentID, userID string) {
	t.touch(documentID, userID, nil)
}

// applies a mutation to an entry and refreshes its LastSeen
func (t *Tracker) touch(documentID, userID string, mutate func(*Entry)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc := t.entries[documentID]
	if doc == nil {
		return
	}

	entry, ok := doc[userID]
	if !ok {
		return
	}

	if mutate != nil {
		mutate(entry)
	}

	entry.LastSeen = time.Now()
}

// SessionPresence returns a point-in-time snapshot of every
// participant's presence for a document
func (t *Tracker) SessionPresence(documentID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return collectLocked(t.entries[documentID])
}

// returns the entry for one participant, if present
func (t *Tracker) Get(documentID, userID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	doc := t.entries[documentID]
	if doc == nil {
		return Entry{}, false
	}

	entry, ok := doc[userID]
	if !ok {
		return Entry{}, false
	}

	return *entry, true
}

// copies entries out of a document map; callers must hold the lock
func collectLocked(doc map[string]*Entry) []Entry {
	if len(doc) == 0 {
		return nil
	}

	snapshot := make([]Entry, 0, len(doc))
	for _, entry := range doc {
		snapshot = append(snapshot, *entry)
	}

	return snapshot
}

// writes the document's presence snapshot into the cache store so
// out-of-band readers (admin views) can see it without touching the
// tracker. Best-effort: failures are already logged by the cache.
func (t *Tracker) mirror(documentID string, snapshot []Entry) {
	if t.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if snapshot == nil {
		t.cache.Delete(ctx, snapshotNamespace, documentID)
		return
	}

	t.cache.SetWithTTL(ctx, snapshotNamespace, documentID, snapshot, 2*t.idleTimeout) //nolint:errcheck,gosec // best-effort mirror
}

// periodically evicts entries whose LastSeen exceeds the idle
// threshold, treating each as an implicit leave
func (t *Tracker) sweepStaleEntries() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.evictStale()

		case <-t.done:
			return
		}
	}
}

type evictedEntry struct {
	documentID string
	userID     string
}

func (t *Tracker) evictStale() {
	now := time.Now()

	var gone []evictedEntry
	touched := make(map[string][]Entry)

	t.mu.Lock()
	for documentID, doc := range t.entries {
		for userID, entry := range doc {
			if now.Sub(entry.LastSeen) > t.idleTimeout {
				delete(doc, userID)
				gone = append(gone, evictedEntry{documentID: documentID, userID: userID})
				touched[documentID] = nil
			}
		}

		if len(doc) == 0 {
			delete(t.entries, documentID)
		} else if _, ok := touched[documentID]; ok {
			touched[documentID] = collectLocked(doc)
		}
	}
	t.mu.Unlock()

	for documentID, snapshot := range touched {
		t.mirror(documentID, snapshot)
	}

	for _, ev := range gone {
		logger.Info("presence entry evicted after idle timeout",
			"document_id", ev.documentID,
			"user_id", ev.userID,
		)

		if t.onEvict != nil {
			t.onEvict(ev.documentID, ev.userID)
		}
	}
}
