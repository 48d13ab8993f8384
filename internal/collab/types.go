package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// the closed set of edit kinds a dashboard operation can carry
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
	OpMove   OpType = "move"
	OpResize OpType = "resize"
)

// reports whether t is one of the known operation kinds
func (t OpType) Valid() bool {
	switch t {
	case OpInsert, OpUpdate, OpDelete, OpMove, OpResize:
		return true
	default:
		return false
	}
}

// Operation is a single edit intent against a collaboratively edited
// dashboard. Immutable once accepted into a session's history.
type Operation struct {
	ID          string          `json:"id"`
	Type        OpType          `json:"type"`
	DocumentID  string          `json:"document_id"`
	UserID      string          `json:"user_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Path        []string        `json:"path"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	BaseVersion int64           `json:"base_version"`

	// operation IDs this operation causally depends on; an operation
	// whose dependency has not been applied yet is rejected rather
	// than applied out of order
	Dependencies []string `json:"dependencies,omitempty"`
}

var (
	errMissingDocument = errors.New("operation has no document_id")
	errMissingPath     = errors.New("operation has no path")
)

// checks the structural validity of an operation before any session
// state is touched; a malformed operation is never partially applied
func (op *Operation) Validate() error {
	if op.DocumentID == "" {
		return errMissingDocument
	}

	if !op.Type.Valid() {
		return fmt.Errorf("unknown operation type %q", op.Type)
	}

	if len(op.Path) == 0 {
		return errMissingPath
	}

	return nil
}

// reports whether two element paths overlap. Overlap is prefix
// containment in either direction: editing a parent and a child of
// the same element counts as touching the same subtree.
func pathsOverlap(a, b []string) bool {
	n := min(len(a), len(b))

	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// outcome of a submit call
type Status string

const (
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
)

// machine-readable rejection reasons
type Reason string

const (
	ReasonUnknownSession   Reason = "unknown_session"
	ReasonConflict         Reason = "conflict"
	ReasonDependencyNotMet Reason = "dependency_not_met"
	ReasonInvalidOperation Reason = "invalid_operation"
	ReasonTimeout          Reason = "timeout"
	ReasonInternalError    Reason = "internal_error"
)

// SubmitResult is the engine's answer to a submitted operation. On
// conflict, Winner carries the already-applied operation that took
// precedence so the client can reconcile and resubmit.
type SubmitResult struct {
	Status     Status     `json:"status"`
	NewVersion int64      `json:"new_version,omitempty"`
	Reason     Reason     `json:"reason,omitempty"`
	Winner     *Operation `json:"winner,omitempty"`
}

// Snapshot is handed to a joining client: the authoritative version,
// who is here, a replay buffer of recent operations, and the current
// document state from the document store (may be empty if the store
// is unavailable - the join still succeeds).
type Snapshot struct {
	DocumentID    string          `json:"document_id"`
	Version       int64           `json:"version"`
	Participants  []string        `json:"participants"`
	History       []Operation     `json:"history"`
	DocumentState json.RawMessage `json:"document_state,omitempty"`
}

// StateResult answers a catch-up request: every operation applied
// after the requested version, in application order. Truncated means
// the retained history window no longer reaches back that far and the
// client must re-fetch full state instead of replaying.
type StateResult struct {
	Version    int64       `json:"version"`
	Operations []Operation `json:"operations"`
	Truncated  bool        `json:"truncated,omitempty"`
}

// durable sink for applied operations. A store failure (after one
// retry) rejects the submit without advancing the version, keeping
// the authoritative counter and durable history in agreement.
type HistoryStore interface {
	AppendOperation(ctx context.Context, op Operation, seq int64) error
}

// external source of dashboard document state, read on join and
// checkpointed when an idle session is evicted
type DocumentStore interface {
	GetState(ctx context.Context, documentID string) (json.RawMessage, error)
	Checkpoint(ctx context.Context, documentID string, version int64) error
}
