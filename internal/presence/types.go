package presence

import "time"

// last known pointer state for a participant
type Cursor struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	ElementID   string  `json:"element_id,omitempty"`
	ElementType string  `json:"element_type,omitempty"`
	Selection   string  `json:"selection,omitempty"`
}

// what a participant is currently doing (e.g. "editing", "viewing")
type Activity struct {
	Action    string    `json:"action"`
	ElementID string    `json:"element_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is the ephemeral per-user-per-document presence state.
// Cursor and activity updates fully replace prior values; there is
// nothing to merge because pointer state has no semantic conflicts.
type Entry struct {
	UserID     string    `json:"user_id"`
	DocumentID string    `json:"document_id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Cursor     *Cursor   `json:"cursor,omitempty"`
	Activity   *Activity `json:"activity,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
}
