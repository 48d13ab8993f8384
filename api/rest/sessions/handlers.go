package sessions

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tablewise/dashsync/internal/auth"
	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/errors"
	"github.com/tablewise/dashsync/internal/logger"
	"github.com/tablewise/dashsync/internal/presence"
	ws "github.com/tablewise/dashsync/internal/websocket"
)

const submitTimeout = 10 * time.Second

// submits one operation to a document's session. REST alternative to
// the websocket path for clients flushing queued edits after a
// reconnect; the verdict and fan-out are identical.
func SubmitOperationHandler(engine *collab.Engine, hub *ws.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := auth.GetUserID(c)
		if !exists {
			errors.Unauthorized(c, "")
			return
		}

		documentID, ok := errors.ValidatePathUUID(c, "document_id")
		if !ok {
			return
		}

		var req SubmitOperationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errors.ValidationError(c, err)
			return
		}

		// identity and target come from the request context, never
		// from the body
		op := req.Operation
		op.DocumentID = documentID
		op.UserID = userID

		if op.Timestamp.IsZero() {
			op.Timestamp = time.Now()
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), submitTimeout)
		defer cancel()

		result := engine.Submit(ctx, op)

		if result.Status == collab.StatusApplied {
			broadcastApplied(hub, op, result.NewVersion)

			c.JSON(http.StatusOK, result)
			return
		}

		switch result.Reason {
		case collab.ReasonUnknownSession:
			errors.UnknownSession(c)

		case collab.ReasonConflict, collab.ReasonDependencyNotMet:
			// the result body carries the reason and, on conflict,
			// the winning operation
			c.JSON(http.StatusConflict, result)

		case collab.ReasonInvalidOperation:
			c.JSON(http.StatusBadRequest, result)

		case collab.ReasonTimeout:
			c.JSON(http.StatusServiceUnavailable, result)

		default:
			c.JSON(http.StatusInternalServerError, result)
		}
	}
}

// fans an operation applied over REST out to the document's live
// websocket participants, excluding the submitter's own connection
func broadcastApplied(hub *ws.Hub, op collab.Operation, version int64) {
	if hub == nil {
		return
	}

	msg, err := ws.NewMessage(ws.TypeOperationApplied, op.DocumentID, op.UserID, ws.OperationAppliedPayload{
		Operation: op,
		Version:   version,
	})
	if err != nil {
		logger.ErrorErr(err, "failed to build operation broadcast",
			"document_id", op.DocumentID,
		)
		return
	}

	hub.BroadcastToDocument(op.DocumentID, msg, op.UserID)
}

// returns the session state for a document: current version plus every
// operation applied after the since_version query parameter
func GetSessionHandler(engine *collab.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID, ok := errors.ValidatePathUUID(c, "document_id")
		if !ok {
			return
		}

		sinceVersion, err := strconv.ParseInt(c.DefaultQuery("since_version", "0"), 10, 64)
		if err != nil || sinceVersion < 0 {
			errors.BadRequest(c, "invalid since_version", nil)
			return
		}

		state, ok := engine.SessionState(documentID, sinceVersion)
		if !ok {
			errors.UnknownSession(c)
			return
		}

		c.JSON(http.StatusOK, SessionResponse{
			DocumentID:   documentID,
			Version:      state.Version,
			Participants: engine.Participants(documentID),
			Operations:   state.Operations,
			Truncated:    state.Truncated,
		})
	}
}

// returns the live presence snapshot for a document
func GetPresenceHandler(engine *collab.Engine, tracker *presence.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID, ok := errors.ValidatePathUUID(c, "document_id")
		if !ok {
			return
		}

		if len(engine.Participants(documentID)) == 0 && len(tracker.SessionPresence(documentID)) == 0 {
			errors.UnknownSession(c)
			return
		}

		c.JSON(http.StatusOK, PresenceResponse{
			DocumentID:   documentID,
			Participants: tracker.SessionPresence(documentID),
		})
	}
}
