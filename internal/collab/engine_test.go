package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDoc = "doc-1"

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()

	e := NewEngine(opts)
	t.Cleanup(e.Shutdown)

	return e
}

func join(t *testing.T, e *Engine, userID string) *Snapshot {
	t.Helper()

	snapshot, err := e.Join(context.Background(), testDoc, userID)
	require.NoError(t, err)

	return snapshot
}

func makeOp(id string, path []string, base int64) Operation {
	return Operation{
		ID:          id,
		Type:        OpUpdate,
		DocumentID:  testDoc,
		UserID:      "user-" + id,
		Timestamp:   time.Now(),
		Path:        path,
		Payload:     json.RawMessage(`{"title":"Revenue"}`),
		BaseVersion: base,
	}
}

func TestSubmitUnknownSession(t *testing.T) {
	e := newTestEngine(t, Options{})

	result := e.Submit(context.Background(), makeOp("op-1", []string{"widgets", "w1"}, 0))

	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, ReasonUnknownSession, result.Reason)
}

func TestSubmitMalformedOperation(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")

	tests := []struct {
		name   string
		mutate func(*Operation)
	}{
		{"missing path", func(op *Operation) { op.Path = nil }},
		{"unknown type", func(op *Operation) { op.Type = "teleport" }},
		{"missing document", func(op *Operation) { op.DocumentID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := makeOp("op-bad", []string{"widgets", "w1"}, 0)
			tt.mutate(&op)

			result := e.Submit(context.Background(), op)
			assert.Equal(t, StatusRejected, result.Status)
			assert.Equal(t, ReasonInvalidOperation, result.Reason)
		})
	}
}

func TestJoinIdempotent(t *testing.T) {
	e := newTestEngine(t, Options{})

	first := join(t, e, "user-a")
	assert.Equal(t, int64(0), first.Version)
	assert.Equal(t, []string{"user-a"}, first.Participants)

	// a repeat join must not duplicate the participant
	second := join(t, e, "user-a")
	assert.Equal(t, []string{"user-a"}, second.Participants)
	assert.Equal(t, 1, e.SessionCount())
}

func TestSubmitAdvancesVersion(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")

	for i := 0; i < 5; i++ {
		op := makeOp(fmt.Sprintf("op-%d", i), []string{"widgets", fmt.Sprintf("w%d", i)}, int64(i))

		result := e.Submit(context.Background(), op)
		require.Equal(t, StatusApplied, result.Status)
		assert.Equal(t, int64(i+1), result.NewVersion)
	}
}

func TestDisjointPathsCommute(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")
	join(t, e, "user-b")

	// both clients edit at base 0; the second arrives stale but its
	// path is untouched by the first, so it still applies
	first := e.Submit(context.Background(), makeOp("op-a", []string{"widgets", "w1", "position"}, 0))
	require.Equal(t, StatusApplied, first.Status)
	require.Equal(t, int64(1), first.NewVersion)

	second := e.Submit(context.Background(), makeOp("op-b", []string{"widgets", "w2", "title"}, 0))
	assert.Equal(t, StatusApplied, second.Status)
	assert.Equal(t, int64(2), second.NewVersion)
}

func TestOverlappingStaleBaseConflicts(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")
	join(t, e, "user-b")

	winner := makeOp("op-a", []string{"widgets", "w1"}, 0)
	require.Equal(t, StatusApplied, e.Submit(context.Background(), winner).Status)

	// editing a child of an already-touched subtree is an overlap
	loser := makeOp("op-b", []string{"widgets", "w1", "title"}, 0)
	result := e.Submit(context.Background(), loser)

	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, ReasonConflict, result.Reason)
	require.NotNil(t, result.Winner)
	assert.Equal(t, "op-a", result.Winner.ID)

	// the losing operation never advances the version or enters replay
	state, ok := e.SessionState(testDoc, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), state.Version)
	require.Len(t, state.Operations, 1)
	assert.Equal(t, "op-a", state.Operations[0].ID)
}

func TestConflictPicksLatestOverlapping(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")

	require.Equal(t, StatusApplied, e.Submit(context.Background(), makeOp("op-1", []string{"widgets", "w1"}, 0)).Status)
	require.Equal(t, StatusApplied, e.Submit(context.Background(), makeOp("op-2", []string{"widgets", "w1"}, 1)).Status)

	result := e.Submit(context.Background(), makeOp("op-3", []string{"widgets", "w1"}, 0))

	require.Equal(t, ReasonConflict, result.Reason)
	require.NotNil(t, result.Winner)
	assert.Equal(t, "op-2", result.Winner.ID)
}

func TestBaseVersionAheadOfServer(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")

	result := e.Submit(context.Background(), makeOp("op-a", []string{"widgets", "w1"}, 7))

	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, ReasonInvalidOperation, result.Reason)
}

func TestDependencyGating(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")

	dependent := makeOp("op-b", []string{"widgets", "w2"}, 0)
	dependent.Dependencies = []string{"op-a"}

	result := e.Submit(context.Background(), dependent)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, ReasonDependencyNotMet, result.Reason)

	// once the dependency lands the same operation applies
	require.Equal(t, StatusApplied, e.Submit(context.Background(), makeOp("op-a", []string{"widgets", "w1"}, 0)).Status)

	dependent.BaseVersion = 1
	result = e.Submit(context.Background(), dependent)
	assert.Equal(t, StatusApplied, result.Status)
	assert.Equal(t, int64(2), result.NewVersion)
}

func TestConcurrentSubmittersVersionMonotonic(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")

	const submitters = 20

	var wg sync.WaitGroup
	versions := make([]int64, submitters)

	for i := 0; i < submitters; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			// every path is distinct, so stale bases still apply
			op := makeOp(fmt.Sprintf("op-%d", n), []string{"widgets", fmt.Sprintf("w%d", n)}, 0)

			result := e.Submit(context.Background(), op)
			if result.Status == StatusApplied {
				versions[n] = result.NewVersion
			}
		}(i)
	}

	wg.Wait()

	// every submit applied with a unique version; the final version is
	// exactly the number of applied operations
	seen := make(map[int64]bool, submitters)
	for _, v := range versions {
		require.Greater(t, v, int64(0))
		require.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}

	state, ok := e.SessionState(testDoc, 0)
	require.True(t, ok)
	assert.Equal(t, int64(submitters), state.Version)
	assert.Len(t, state.Operations, submitters)
}

func TestSessionStateSinceVersion(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")

	for i := 0; i < 4; i++ {
		op := makeOp(fmt.Sprintf("op-%d", i), []string{"widgets", fmt.Sprintf("w%d", i)}, int64(i))
		require.Equal(t, StatusApplied, e.Submit(context.Background(), op).Status)
	}

	state, ok := e.SessionState(testDoc, 2)
	require.True(t, ok)
	assert.Equal(t, int64(4), state.Version)
	require.Len(t, state.Operations, 2)
	assert.Equal(t, "op-2", state.Operations[0].ID)
	assert.Equal(t, "op-3", state.Operations[1].ID)
	assert.False(t, state.Truncated)

	_, ok = e.SessionState("no-such-doc", 0)
	assert.False(t, ok)
}

func TestHistoryTruncation(t *testing.T) {
	e := newTestEngine(t, Options{HistoryLimit: 3})
	join(t, e, "user-a")

	for i := 0; i < 5; i++ {
		op := makeOp(fmt.Sprintf("op-%d", i), []string{"widgets", fmt.Sprintf("w%d", i)}, int64(i))
		require.Equal(t, StatusApplied, e.Submit(context.Background(), op).Status)
	}

	// a client asking for history older than the retained window must
	// be told to re-fetch full state instead of replaying
	state, ok := e.SessionState(testDoc, 0)
	require.True(t, ok)
	assert.True(t, state.Truncated)
	assert.Len(t, state.Operations, 3)

	// a client inside the window replays normally
	state, ok = e.SessionState(testDoc, 3)
	require.True(t, ok)
	assert.False(t, state.Truncated)
	assert.Len(t, state.Operations, 2)
}

func TestLeave(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")
	join(t, e, "user-b")

	assert.Equal(t, 1, e.Leave(testDoc, "user-a"))
	assert.Equal(t, 0, e.Leave(testDoc, "user-b"))

	// leaving an unknown document is a no-op
	assert.Equal(t, 0, e.Leave("no-such-doc", "user-a"))

	// the session survives until the idle sweep
	assert.Equal(t, 1, e.SessionCount())
}

type fakeDocStore struct {
	mu          sync.Mutex
	state       json.RawMessage
	stateErr    error
	checkpoints map[string]int64
}

func newFakeDocStore(state string) *fakeDocStore {
	return &fakeDocStore{
		state:       json.RawMessage(state),
		checkpoints: make(map[string]int64),
	}
}

func (f *fakeDocStore) GetState(_ context.Context, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stateErr != nil {
		return nil, f.stateErr
	}

	return f.state, nil
}

func (f *fakeDocStore) Checkpoint(_ context.Context, documentID string, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checkpoints[documentID] = version
	return nil
}

func TestJoinCarriesDocumentState(t *testing.T) {
	docs := newFakeDocStore(`{"widgets":{}}`)
	e := newTestEngine(t, Options{Documents: docs})

	snapshot := join(t, e, "user-a")
	assert.JSONEq(t, `{"widgets":{}}`, string(snapshot.DocumentState))
}

func TestJoinSurvivesDocumentStoreFailure(t *testing.T) {
	docs := newFakeDocStore(`{}`)
	docs.stateErr = errors.New("database down")

	e := newTestEngine(t, Options{Documents: docs})

	snapshot := join(t, e, "user-a")
	assert.Nil(t, snapshot.DocumentState)
	assert.Equal(t, []string{"user-a"}, snapshot.Participants)
}

func TestIdleSessionEvictedAndCheckpointed(t *testing.T) {
	docs := newFakeDocStore(`{}`)

	var evictedDoc string
	var evictedVersion int64

	e := newTestEngine(t, Options{
		IdleTimeout: 10 * time.Millisecond,
		Documents:   docs,
		OnSessionEvicted: func(documentID string, version int64) {
			evictedDoc = documentID
			evictedVersion = version
		},
	})

	join(t, e, "user-a")
	require.Equal(t, StatusApplied, e.Submit(context.Background(), makeOp("op-1", []string{"widgets", "w1"}, 0)).Status)
	e.Leave(testDoc, "user-a")

	time.Sleep(20 * time.Millisecond)
	e.evictIdle()

	assert.Equal(t, 0, e.SessionCount())
	assert.Equal(t, testDoc, evictedDoc)
	assert.Equal(t, int64(1), evictedVersion)

	docs.mu.Lock()
	assert.Equal(t, int64(1), docs.checkpoints[testDoc])
	docs.mu.Unlock()
}

type fakeHistoryStore struct {
	mu       sync.Mutex
	appended []int64
	failures int
}

func (f *fakeHistoryStore) AppendOperation(_ context.Context, _ Operation, seq int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return errors.New("store unavailable")
	}

	f.appended = append(f.appended, seq)
	return nil
}

func TestPersistenceFailureDoesNotAdvanceVersion(t *testing.T) {
	history := &fakeHistoryStore{failures: 10}
	e := newTestEngine(t, Options{History: history})
	join(t, e, "user-a")

	result := e.Submit(context.Background(), makeOp("op-1", []string{"widgets", "w1"}, 0))

	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, ReasonInternalError, result.Reason)

	state, ok := e.SessionState(testDoc, 0)
	require.True(t, ok)
	assert.Equal(t, int64(0), state.Version)
}

func TestPersistenceRetriesOnce(t *testing.T) {
	history := &fakeHistoryStore{failures: 1}
	e := newTestEngine(t, Options{History: history})
	join(t, e, "user-a")

	result := e.Submit(context.Background(), makeOp("op-1", []string{"widgets", "w1"}, 0))

	assert.Equal(t, StatusApplied, result.Status)

	history.mu.Lock()
	assert.Equal(t, []int64{1}, history.appended)
	history.mu.Unlock()
}

// two users editing different widgets from the same base both land
func TestScenarioConcurrentDisjointEdits(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")
	join(t, e, "user-b")

	move := makeOp("op-move", []string{"widgets", "w1", "position"}, 0)
	move.Type = OpMove

	retitle := makeOp("op-title", []string{"widgets", "w2", "title"}, 0)

	require.Equal(t, StatusApplied, e.Submit(context.Background(), move).Status)

	result := e.Submit(context.Background(), retitle)
	require.Equal(t, StatusApplied, result.Status)
	assert.Equal(t, int64(2), result.NewVersion)

	state, ok := e.SessionState(testDoc, 0)
	require.True(t, ok)
	assert.Equal(t, int64(2), state.Version)
}

// two users editing the same widget from the same base: first wins,
// second is told who won and retries against the new version
func TestScenarioConflictThenResubmit(t *testing.T) {
	e := newTestEngine(t, Options{})
	join(t, e, "user-a")
	join(t, e, "user-b")

	require.Equal(t, StatusApplied, e.Submit(context.Background(), makeOp("op-a", []string{"widgets", "w1", "title"}, 0)).Status)

	stale := makeOp("op-b", []string{"widgets", "w1", "title"}, 0)
	result := e.Submit(context.Background(), stale)
	require.Equal(t, ReasonConflict, result.Reason)
	require.NotNil(t, result.Winner)

	// client reconciles against the winner and resubmits at the head
	stale.BaseVersion = result.Winner.BaseVersion + 1
	retried := e.Submit(context.Background(), stale)
	assert.Equal(t, StatusApplied, retried.Status)
	assert.Equal(t, int64(2), retried.NewVersion)
}

// one stuck document must not hang its callers: every entry point that
// waits on the serialization slot gives up within the lock timeout
func TestSlotAcquisitionBounded(t *testing.T) {
	e := newTestEngine(t, Options{LockTimeout: 50 * time.Millisecond})
	join(t, e, "user-a")

	s, ok := e.lookup(testDoc)
	require.True(t, ok)

	// occupy the slot so every caller has to wait it out
	require.True(t, s.acquire(time.Second))

	start := time.Now()
	result := e.Submit(context.Background(), makeOp("op-1", []string{"widgets", "w1"}, 0))
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, ReasonTimeout, result.Reason)
	assert.Less(t, time.Since(start), time.Second)

	_, err := e.Join(context.Background(), testDoc, "user-b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Leave signals the timeout instead of guessing a participant count
	assert.Equal(t, -1, e.Leave(testDoc, "user-a"))

	_, ok = e.SessionState(testDoc, 0)
	assert.False(t, ok)

	// the slot is not poisoned: once released, submissions flow again
	s.release()

	result = e.Submit(context.Background(), makeOp("op-2", []string{"widgets", "w2"}, 0))
	assert.Equal(t, StatusApplied, result.Status)
}
