package sessions

import (
	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/presence"
)

// request body for submitting an operation over REST
type SubmitOperationRequest struct {
	Operation collab.Operation `json:"operation" binding:"required"`
}

// session state returned to catch-up requests
type SessionResponse struct {
	DocumentID   string             `json:"document_id"`
	Version      int64              `json:"version"`
	Participants []string           `json:"participants"`
	Operations   []collab.Operation `json:"operations"`
	Truncated    bool               `json:"truncated,omitempty"`
}

// presence snapshot for a document
type PresenceResponse struct {
	DocumentID   string           `json:"document_id"`
	Participants []presence.Entry `json:"participants"`
}
