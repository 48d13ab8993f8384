package collab

import (
	"time"
)

// one entry in a session's operation log. Rejected operations are
// retained for audit with applied=false; they never advance the
// version and never appear in replay.
type historyEntry struct {
	op      Operation
	seq     int64
	applied bool
}

// session is the authoritative server-side state for one open
// dashboard. All mutation happens while holding the slot channel, so
// operation application within a document is strictly serialized
// while different documents proceed independently.
type session struct {
	documentID string

	// monotonic, +1 per applied operation, starts at 0
	version int64

	participants map[string]struct{}

	// bounded window of recent entries for late-joiner replay
	history []historyEntry

	// seq of the oldest retained applied entry (0 when nothing
	// has been trimmed away yet)
	oldestSeq int64

	// IDs of applied operations still inside the retained window,
	// used to check declared dependencies
	appliedIDs map[string]struct{}

	// capacity-1 acquire channel: the per-document serialization slot
	slot chan struct{}

	// when the last participant left; zero while occupied
	idleSince time.Time

	lastActivity time.Time
}

func newSession(documentID string) *session {
	return &session{
		documentID:   documentID,
		participants: make(map[string]struct{}),
		appliedIDs:   make(map[string]struct{}),
		slot:         make(chan struct{}, 1),
		lastActivity: time.Now(),
	}
}

// acquires the serialization slot, giving up after the timeout so one
// stuck document cannot starve its callers. Returns false on timeout.
func (s *session) acquire(timeout time.Duration) bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.slot <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (s *session) release() {
	<-s.slot
}

// returns the applied operations with seq > since, in application
// order. Callers must hold the slot.
func (s *session) appliedSince(since int64) []Operation {
	var ops []Operation

	for _, entry := range s.history {
		if entry.applied && entry.seq > since {
			ops = append(ops, entry.op)
		}
	}

	return ops
}

// finds the latest applied operation after base whose path overlaps
// the given one. Callers must hold the slot.
func (s *session) latestOverlapping(path []string, base int64) *Operation {
	for i := len(s.history) - 1; i >= 0; i-- {
		entry := s.history[i]

		if !entry.applied || entry.seq <= base {
			continue
		}

		if pathsOverlap(entry.op.Path, path) {
			op := entry.op
			return &op
		}
	}

	return nil
}

// appends an entry, trimming the window to limit entries. Trimmed
// applied entries drop out of the dependency index as well. Callers
// must hold the slot.
func (s *session) appendEntry(entry historyEntry, limit int) {
	s.history = append(s.history, entry)

	for len(s.history) > limit {
		evicted := s.history[0]
		s.history = s.history[1:]

		if evicted.applied {
			delete(s.appliedIDs, evicted.op.ID)

			if evicted.seq >= s.oldestSeq {
				s.oldestSeq = evicted.seq + 1
			}
		}
	}
}

// reports whether every declared dependency has been applied.
// Callers must hold the slot.
func (s *session) dependenciesMet(deps []string) bool {
	for _, id := range deps {
		if _, ok := s.appliedIDs[id]; !ok {
			return false
		}
	}

	return true
}
