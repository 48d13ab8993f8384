package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablewise/dashsync/internal/cache"
)

const testDoc = "doc-1"

func newTestTracker(t *testing.T, opts Options) *Tracker {
	t.Helper()

	tr := NewTracker(opts)
	t.Cleanup(tr.Shutdown)

	return tr
}

func TestJoinReturnsFullSnapshot(t *testing.T) {
	tr := newTestTracker(t, Options{})

	first := tr.Join(testDoc, "user-a", "Ada", "")
	require.Len(t, first, 1)
	assert.Equal(t, "user-a", first[0].UserID)
	assert.Equal(t, "Ada", first[0].Username)

	second := tr.Join(testDoc, "user-b", "Brendan", "https://example.com/b.png")
	assert.Len(t, second, 2)
}

func TestJoinRefreshesExistingEntry(t *testing.T) {
	tr := newTestTracker(t, Options{})

	tr.Join(testDoc, "user-a", "Ada", "")
	snapshot := tr.Join(testDoc, "user-a", "Ada L.", "")

	require.Len(t, snapshot, 1)
	assert.Equal(t, "Ada L.", snapshot[0].Username)
}

func TestLeave(t *testing.T) {
	tr := newTestTracker(t, Options{})

	tr.Join(testDoc, "user-a", "Ada", "")
	tr.Join(testDoc, "user-b", "Brendan", "")

	remaining := tr.Leave(testDoc, "user-a")
	require.Len(t, remaining, 1)
	assert.Equal(t, "user-b", remaining[0].UserID)

	// leaving twice is a no-op
	remaining = tr.Leave(testDoc, "user-a")
	assert.Len(t, remaining, 1)

	assert.Nil(t, tr.Leave(testDoc, "user-b"))
	assert.Empty(t, tr.SessionPresence(testDoc))
}

func TestCursorReplaceSemantics(t *testing.T) {
	tr := newTestTracker(t, Options{})
	tr.Join(testDoc, "user-a", "Ada", "")

	tr.UpdateCursor(testDoc, "user-a", Cursor{X: 10, Y: 20, ElementID: "w1"})
	tr.UpdateCursor(testDoc, "user-a", Cursor{X: 300, Y: 40, ElementID: "w2", ElementType: "chart"})

	entry, ok := tr.Get(testDoc, "user-a")
	require.True(t, ok)
	require.NotNil(t, entry.Cursor)

	// only the latest cursor survives
	assert.Equal(t, float64(300), entry.Cursor.X)
	assert.Equal(t, "w2", entry.Cursor.ElementID)
	assert.Equal(t, "chart", entry.Cursor.ElementType)
}

func TestCursorUpdateForUnknownUserIgnored(t *testing.T) {
	tr := newTestTracker(t, Options{})

	tr.UpdateCursor(testDoc, "ghost", Cursor{X: 1})

	_, ok := tr.Get(testDoc, "ghost")
	assert.False(t, ok)
}

func TestActivityReplaceSemantics(t *testing.T) {
	tr := newTestTracker(t, Options{})
	tr.Join(testDoc, "user-a", "Ada", "")

	tr.UpdateActivity(testDoc, "user-a", "editing", "w1")
	tr.UpdateActivity(testDoc, "user-a", "viewing", "")

	entry, ok := tr.Get(testDoc, "user-a")
	require.True(t, ok)
	require.NotNil(t, entry.Activity)
	assert.Equal(t, "viewing", entry.Activity.Action)
	assert.Empty(t, entry.Activity.ElementID)
}

func TestLivenessEviction(t *testing.T) {
	var mu sync.Mutex
	var evicted []string

	tr := newTestTracker(t, Options{
		IdleTimeout: 20 * time.Millisecond,
		OnEvict: func(_, userID string) {
			mu.Lock()
			evicted = append(evicted, userID)
			mu.Unlock()
		},
	})

	tr.Join(testDoc, "user-a", "Ada", "")
	tr.Join(testDoc, "user-b", "Brendan", "")

	// keep one participant alive past the idle threshold
	time.Sleep(15 * time.Millisecond)
	tr.Heartbeat(testDoc, "user-b")
	time.Sleep(15 * time.Millisecond)

	tr.evictStale()

	mu.Lock()
	assert.Equal(t, []string{"user-a"}, evicted)
	mu.Unlock()

	snapshot := tr.SessionPresence(testDoc)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "user-b", snapshot[0].UserID)
}

func TestHeartbeatKeepsEntryAlive(t *testing.T) {
	tr := newTestTracker(t, Options{IdleTimeout: 20 * time.Millisecond})
	tr.Join(testDoc, "user-a", "Ada", "")

	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		tr.Heartbeat(testDoc, "user-a")
	}

	tr.evictStale()

	_, ok := tr.Get(testDoc, "user-a")
	assert.True(t, ok)
}

func TestSnapshotMirroredToCache(t *testing.T) {
	backend := cache.NewMemoryBackend()
	defer backend.Close() //nolint:errcheck,gosec // test cleanup

	store := cache.New(backend, 0)
	tr := newTestTracker(t, Options{Cache: store})

	tr.Join(testDoc, "user-a", "Ada", "")

	var mirrored []Entry
	require.True(t, store.Get(context.Background(), "presence", testDoc, &mirrored))
	require.Len(t, mirrored, 1)
	assert.Equal(t, "user-a", mirrored[0].UserID)

	// the mirror disappears with the last participant
	tr.Leave(testDoc, "user-a")
	assert.False(t, store.Get(context.Background(), "presence", testDoc, &mirrored))
}

func TestPresenceIsolatedPerDocument(t *testing.T) {
	tr := newTestTracker(t, Options{})

	tr.Join("doc-1", "user-a", "Ada", "")
	tr.Join("doc-2", "user-a", "Ada", "")

	tr.Leave("doc-1", "user-a")

	assert.Empty(t, tr.SessionPresence("doc-1"))
	assert.Len(t, tr.SessionPresence("doc-2"), 1)
}
