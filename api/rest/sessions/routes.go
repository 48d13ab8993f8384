package sessions

import (
	"github.com/gin-gonic/gin"

	"github.com/tablewise/dashsync/internal/auth"
	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/presence"
	ws "github.com/tablewise/dashsync/internal/websocket"
)

func RegisterRoutes(router *gin.RouterGroup, engine *collab.Engine, hub *ws.Hub, tracker *presence.Tracker, submitLimiter gin.HandlerFunc) {
	// operation submission (authenticated, rate limited per IP)
	router.POST("/sessions/:document_id/operations", auth.Middleware(), submitLimiter, SubmitOperationHandler(engine, hub))

	// session state and catch-up
	router.GET("/sessions/:document_id", auth.Middleware(), GetSessionHandler(engine))

	// presence snapshot
	router.GET("/sessions/:document_id/presence", auth.Middleware(), GetPresenceHandler(engine, tracker))
}
