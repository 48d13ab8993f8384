package documents

import (
	"encoding/json"
	"time"
)

// a dashboard definition as persisted by the surrounding platform.
// This service reads state for join snapshots and writes back the
// synced version when a session winds down; the schema itself is
// owned elsewhere.
type Document struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	State         json.RawMessage `json:"state"`
	SyncedVersion int64           `json:"synced_version"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SQL queries
const (
	queryGetDocument = `
		SELECT id, title, state, synced_version, updated_at
		FROM documents
		WHERE id = $1`

	queryGetState = `
		SELECT state
		FROM documents
		WHERE id = $1`

	queryCheckpoint = `
		UPDATE documents
		SET synced_version = $2, updated_at = NOW()
		WHERE id = $1`
)
