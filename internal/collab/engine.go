package collab

import (
	"context"
	"sync"
	"time"

	"github.com/tablewise/dashsync/internal/logger"
)

const (
	defaultHistoryLimit = 500
	defaultIdleTimeout  = 10 * time.Minute
	defaultLockTimeout  = 5 * time.Second

	sweepInterval = time.Minute
)

// tunables and optional collaborators for the engine
type Options struct {
	// applied operations retained per session for replay (default 500)
	HistoryLimit int

	// sessions with no participants are destroyed after this (default 10m)
	IdleTimeout time.Duration

	// bound on waiting for a document's serialization slot (default 5s)
	LockTimeout time.Duration

	// durable sink for applied operations; nil disables persistence
	History HistoryStore

	// source of document state for join snapshots; nil disables
	Documents DocumentStore

	// invoked after an idle session is destroyed
	OnSessionEvicted func(documentID string, version int64)
}

// Engine is the operation log and conflict resolver. One Engine
// serves all open dashboards; each dashboard's state is serialized
// through its own session slot so documents never contend with each
// other.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session

	historyLimit int
	idleTimeout  time.Duration
	lockTimeout  time.Duration

	history HistoryStore
	docs    DocumentStore
	onEvict func(documentID string, version int64)

	done chan struct{}
	once sync.Once
}

// creates an engine and starts its idle-session sweeper
func NewEngine(opts Options) *Engine {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}

	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}

	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}

	e := &Engine{
		sessions:     make(map[string]*session),
		historyLimit: opts.HistoryLimit,
		idleTimeout:  opts.IdleTimeout,
		lockTimeout:  opts.LockTimeout,
		history:      opts.History,
		docs:         opts.Documents,
		onEvict:      opts.OnSessionEvicted,
		done:         make(chan struct{}),
	}

	go e.sweepIdleSessions()

	return e
}

// stops the background sweeper
func (e *Engine) Shutdown() {
	e.once.Do(func() {
		close(e.done)
	})
}

// returns the session for a document, creating it on first join
func (e *Engine) getOrCreate(documentID string) *session {
	e.mu.RLock()
	s, ok := e.sessions[documentID]
	e.mu.RUnlock()

	if ok {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[documentID]; ok {
		return s
	}

	s = newSession(documentID)
	e.sessions[documentID] = s

	logger.Info("collaborative session created", "document_id", documentID)

	return s
}

func (e *Engine) lookup(documentID string) (*session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.sessions[documentID]
	return s, ok
}

// Join adds a user to a document's session, creating or reactivating
// it as needed. Idempotent: a repeat join refreshes liveness without
// duplicating the participant. The returned snapshot carries the
// current version, participants, a replay buffer, and the document
// state when the document store can supply it.
func (e *Engine) Join(ctx context.Context, documentID, userID string) (*Snapshot, error) {
	s := e.getOrCreate(documentID)

	if !s.acquire(e.lockTimeout) {
		return nil, context.DeadlineExceeded
	}

	s.participants[userID] = struct{}{}
	s.idleSince = time.Time{}
	s.lastActivity = time.Now()

	snapshot := &Snapshot{
		DocumentID:   documentID,
		Version:      s.version,
		Participants: make([]string, 0, len(s.participants)),
		History:      s.appliedSince(0),
	}

	for id := range s.participants {
		snapshot.Participants = append(snapshot.Participants, id)
	}

	s.release()

	if e.docs != nil {
		state, err := e.docs.GetState(ctx, documentID)
		if err != nil {
			// join still succeeds; the client falls back to replay
			logger.Warn("failed to load document state for join",
				"document_id", documentID,
				"user_id", userID,
				"error", err,
			)
		} else {
			snapshot.DocumentState = state
		}
	}

	return snapshot, nil
}

// Leave removes a user from a session; a no-op if the user was not
// joined. Returns how many participants remain, or -1 when the
// session slot could not be acquired within the lock timeout. The
// last leave marks the session idle for the sweeper.
func (e *Engine) Leave(documentID, userID string) int {
	s, ok := e.lookup(documentID)
	if !ok {
		return 0
	}

	if !s.acquire(e.lockTimeout) {
		return -1
	}
	defer s.release()

	delete(s.participants, userID)
	s.lastActivity = time.Now()

	remaining := len(s.participants)
	if remaining == 0 {
		s.idleSince = time.Now()
	}

	return remaining
}

// Submit validates, orders and applies one operation. This is the
// conflict-resolution core: stale operations on untouched subtrees
// still apply (disjoint paths always commute), stale operations on a
// touched subtree lose to the already-applied edit and come back
// rejected with the winner attached.
func (e *Engine) Submit(ctx context.Context, op Operation) SubmitResult {
	if err := op.Validate(); err != nil {
		return SubmitResult{Status: StatusRejected, Reason: ReasonInvalidOperation}
	}

	s, ok := e.lookup(op.DocumentID)
	if !ok {
		return SubmitResult{Status: StatusRejected, Reason: ReasonUnknownSession}
	}

	if !s.acquire(e.lockTimeout) {
		return SubmitResult{Status: StatusRejected, Reason: ReasonTimeout}
	}
	defer s.release()

	s.lastActivity = time.Now()

	// a client claiming a version the server has not reached is a
	// protocol violation, not a conflict
	if op.BaseVersion > s.version {
		return SubmitResult{Status: StatusRejected, Reason: ReasonInvalidOperation}
	}

	if !s.dependenciesMet(op.Dependencies) {
		return SubmitResult{Status: StatusRejected, Reason: ReasonDependencyNotMet}
	}

	if op.BaseVersion < s.version {
		if winner := s.latestOverlapping(op.Path, op.BaseVersion); winner != nil {
			// last write wins by document order; keep the loser for audit
			s.appendEntry(historyEntry{op: op, applied: false}, e.historyLimit)

			logger.Debug("operation rejected on conflict",
				"document_id", op.DocumentID,
				"user_id", op.UserID,
				"base_version", op.BaseVersion,
				"version", s.version,
			)

			return SubmitResult{Status: StatusRejected, Reason: ReasonConflict, Winner: winner}
		}
	}

	seq := s.version + 1

	if e.history != nil {
		if err := e.persistWithRetry(ctx, op, seq); err != nil {
			logger.ErrorErr(err, "failed to persist operation, not advancing version",
				"document_id", op.DocumentID,
				"seq", seq,
			)

			return SubmitResult{Status: StatusRejected, Reason: ReasonInternalError}
		}
	}

	s.appendEntry(historyEntry{op: op, seq: seq, applied: true}, e.historyLimit)
	s.appliedIDs[op.ID] = struct{}{}
	s.version = seq

	return SubmitResult{Status: StatusApplied, NewVersion: seq}
}

// writes an applied operation to the history store, retrying once on
// transient failure
func (e *Engine) persistWithRetry(ctx context.Context, op Operation, seq int64) error {
	err := e.history.AppendOperation(ctx, op, seq)
	if err == nil {
		return nil
	}

	return e.history.AppendOperation(ctx, op, seq)
}

// SessionState answers a catch-up request from a client that knows a
// prior version: every operation applied since, in order.
func (e *Engine) SessionState(documentID string, sinceVersion int64) (*StateResult, bool) {
	s, ok := e.lookup(documentID)
	if !ok {
		return nil, false
	}

	if !s.acquire(e.lockTimeout) {
		return nil, false
	}
	defer s.release()

	result := &StateResult{
		Version:    s.version,
		Operations: s.appliedSince(sinceVersion),
	}

	// the retained window may no longer reach back to sinceVersion
	if sinceVersion < s.oldestSeq-1 {
		result.Truncated = true
	}

	return result, true
}

// returns the users currently joined to a document's session
func (e *Engine) Participants(documentID string) []string {
	s, ok := e.lookup(documentID)
	if !ok {
		return nil
	}

	if !s.acquire(e.lockTimeout) {
		return nil
	}
	defer s.release()

	participants := make([]string, 0, len(s.participants))
	for id := range s.participants {
		participants = append(participants, id)
	}

	return participants
}

// returns the number of live sessions
func (e *Engine) SessionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.sessions)
}

// periodically destroys sessions that have sat empty past the idle
// timeout, checkpointing the final version through the document store
func (e *Engine) sweepIdleSessions() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.evictIdle()

		case <-e.done:
			return
		}
	}
}

func (e *Engine) evictIdle() {
	now := time.Now()

	type evicted struct {
		documentID string
		version    int64
	}

	var gone []evicted

	e.mu.Lock()
	for id, s := range e.sessions {
		if !s.idleSince.IsZero() && now.Sub(s.idleSince) > e.idleTimeout {
			gone = append(gone, evicted{documentID: id, version: s.version})
			delete(e.sessions, id)
		}
	}
	e.mu.Unlock()

	for _, ev := range gone {
		logger.Info("idle session evicted",
			"document_id", ev.documentID,
			"version", ev.version,
		)

		if e.docs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.docs.Checkpoint(ctx, ev.documentID, ev.version); err != nil {
				logger.ErrorErr(err, "failed to checkpoint evicted session",
					"document_id", ev.documentID,
				)
			}
			cancel()
		}

		if e.onEvict != nil {
			e.onEvict(ev.documentID, ev.version)
		}
	}
}
