package websocket

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tablewise/dashsync/internal/auth"
	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/errors"
	"github.com/tablewise/dashsync/internal/logger"
	"github.com/tablewise/dashsync/internal/presence"
	ws "github.com/tablewise/dashsync/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     ws.CheckOrigin,
}

// handles WebSocket connections for real-time dashboard collaboration.
// On open the user joins both the sync engine and the presence
// tracker and receives the combined snapshot; on close both engines
// see the leave and the hub drops the connection.
func WebSocketHandler(hub *ws.Hub, engine *collab.Engine, tracker *presence.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params ConnectParams
		if err := c.ShouldBindQuery(&params); err != nil {
			errors.BadRequest(c, "invalid parameters", err)
			return
		}

		if !errors.IsValidUUID(params.DocumentID) {
			errors.BadRequest(c, "invalid document_id format", nil)
			return
		}

		// identity is verified before the upgrade; the socket never
		// carries an unauthenticated user
		claims, err := auth.ValidateJWT(params.Token)
		if err != nil {
			errors.Unauthorized(c, "valid authentication required")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		snapshot, err := engine.Join(ctx, params.DocumentID, claims.UserID)
		if err != nil {
			errors.InternalError(c, "failed to join session", err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.ErrorErr(err, "failed to upgrade connection",
				"document_id", params.DocumentID,
				"user_id", claims.UserID,
			)

			engine.Leave(params.DocumentID, claims.UserID)
			return
		}

		participants := tracker.Join(params.DocumentID, claims.UserID, claims.Username, claims.AvatarURL)

		client := ws.NewClient(params.DocumentID, claims.UserID, claims.Username, claims.AvatarURL, conn, hub)

		hub.Register <- client

		// send the combined snapshot to the connecting client
		stateMsg, err := ws.NewMessage(ws.TypeSessionState, params.DocumentID, claims.UserID, ws.SessionStatePayload{
			Version:       snapshot.Version,
			DocumentState: snapshot.DocumentState,
			History:       snapshot.History,
			Presence:      participants,
		})
		if err == nil {
			if sendErr := client.Send(stateMsg); sendErr != nil {
				logger.ErrorErr(sendErr, "failed to send session state",
					"document_id", params.DocumentID,
					"user_id", claims.UserID,
				)
			}
		}

		// announce the join to the rest of the session
		joinedMsg, err := ws.NewMessage(ws.TypeUserJoined, params.DocumentID, claims.UserID, ws.UserJoinedPayload{
			UserID:    claims.UserID,
			Username:  claims.Username,
			AvatarURL: claims.AvatarURL,
		})
		if err == nil {
			hub.BroadcastToDocument(params.DocumentID, joinedMsg, claims.UserID)
		}

		go client.WritePump()
		go client.ReadPump()

		logger.Info("websocket connection established",
			"document_id", params.DocumentID,
			"user_id", claims.UserID,
			"username", claims.Username,
		)
	}
}
