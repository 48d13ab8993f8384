package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tablewise/dashsync/internal/cache"
	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/config"
	"github.com/tablewise/dashsync/internal/documents"
	"github.com/tablewise/dashsync/internal/presence"
	ws "github.com/tablewise/dashsync/internal/websocket"
)

// holds all dependencies and state for the sync server
type Server struct {
	db      *pgxpool.Pool
	config  *config.Config
	cache   *cache.Cache
	history *collab.CacheHistoryStore
	docRepo *documents.Repository
	engine  *collab.Engine
	tracker *presence.Tracker
	hub     *ws.Hub
	router  *gin.Engine
}
