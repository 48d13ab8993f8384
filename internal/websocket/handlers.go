package websocket

import (
	"context"
	"time"

	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/logger"
	"github.com/tablewise/dashsync/internal/presence"
)

const submitTimeout = 10 * time.Second

// handles operation submissions: the engine orders and applies the
// operation, the submitter gets an ack with the verdict, and applied
// operations fan out to the rest of the session
func OperationHandler(engine *collab.Engine) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		if !client.allowOperation() {
			client.SendError("too_many_requests", "too many operations, slow down", "")
			return ErrRateLimitExceeded
		}

		var payload OperationPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError("validation_error", "failed to parse operation", err.Error())
			return err
		}

		op := payload.Operation
		op.DocumentID = client.DocumentID
		op.UserID = client.UserID

		if op.Timestamp.IsZero() {
			op.Timestamp = msg.Timestamp
		}

		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()

		result := engine.Submit(ctx, op)

		ack, err := NewMessage(TypeOperationAck, client.DocumentID, client.UserID, OperationAckPayload{
			OperationID: op.ID,
			Result:      result,
		})
		if err == nil {
			client.Send(ack) //nolint:errcheck,gosec // best-effort ack
		}

		if result.Status != collab.StatusApplied {
			return nil
		}

		applied, err := NewMessage(TypeOperationApplied, client.DocumentID, client.UserID, OperationAppliedPayload{
			Operation: op,
			Version:   result.NewVersion,
		})
		if err != nil {
			return err
		}

		hub.BroadcastToDocument(client.DocumentID, applied, client.UserID)

		return nil
	}
}

// handles cursor moves: replace semantics in the tracker, then fan
// out to everyone else. High frequency and fire-and-forget.
func CursorHandler(tracker *presence.Tracker) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		if !client.allowCursorUpdate() {
			// silently dropped; cursor state is ephemeral anyway
			return nil
		}

		var payload CursorPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError("validation_error", "failed to parse cursor update", err.Error())
			return err
		}

		tracker.UpdateCursor(client.DocumentID, client.UserID, payload.Cursor)

		update, err := NewMessage(TypeCursorUpdate, client.DocumentID, client.UserID, CursorPayload{
			UserID: client.UserID,
			Cursor: payload.Cursor,
		})
		if err != nil {
			return err
		}

		hub.BroadcastToDocument(client.DocumentID, update, client.UserID)

		return nil
	}
}

// handles activity changes with the same replace semantics as cursors
func ActivityHandler(tracker *presence.Tracker) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		if !client.allowCursorUpdate() {
			return nil
		}

		var payload ActivityPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError("validation_error", "failed to parse activity update", err.Error())
			return err
		}

		tracker.UpdateActivity(client.DocumentID, client.UserID, payload.Action, payload.ElementID)

		update, err := NewMessage(TypeActivityChanged, client.DocumentID, client.UserID, ActivityPayload{
			UserID:    client.UserID,
			Action:    payload.Action,
			ElementID: payload.ElementID,
		})
		if err != nil {
			return err
		}

		hub.BroadcastToDocument(client.DocumentID, update, client.UserID)

		return nil
	}
}

// handles catch-up requests from clients that reconnected with a
// known prior version
func SyncRequestHandler(engine *collab.Engine) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		var payload SyncRequestPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			client.SendError("validation_error", "failed to parse sync request", err.Error())
			return err
		}

		state, ok := engine.SessionState(client.DocumentID, payload.SinceVersion)
		if !ok {
			client.SendError("unknown_session", "no active session for this document", "")
			return nil
		}

		reply, err := NewMessage(TypeSyncState, client.DocumentID, client.UserID, state)
		if err != nil {
			return err
		}

		if sendErr := client.Send(reply); sendErr != nil {
			logger.Warn("failed to send sync state",
				"document_id", client.DocumentID,
				"user_id", client.UserID,
				"error", sendErr,
			)
		}

		return nil
	}
}

// answers pings immediately; refreshes presence liveness but touches
// no document state
func PingHandler(tracker *presence.Tracker) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		tracker.Heartbeat(client.DocumentID, client.UserID)

		pong, err := NewMessage(TypePong, client.DocumentID, client.UserID, map[string]string{})
		if err != nil {
			return err
		}

		client.Send(pong) //nolint:errcheck,gosec // best-effort pong

		return nil
	}
}
