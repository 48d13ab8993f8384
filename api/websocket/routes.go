package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/presence"
	ws "github.com/tablewise/dashsync/internal/websocket"
)

func RegisterRoutes(router *gin.RouterGroup, hub *ws.Hub, engine *collab.Engine, tracker *presence.Tracker) {
	router.GET("/ws", WebSocketHandler(hub, engine, tracker))
}
