package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tablewise/dashsync/api/rest/health"
	"github.com/tablewise/dashsync/api/rest/sessions"
	"github.com/tablewise/dashsync/api/websocket"
	"github.com/tablewise/dashsync/internal/ratelimit"
)

// sets up all API routes and middleware
func RegisterRoutes(router *gin.Engine, server *Server) error {
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", health.Handler(server.engine, server.cache, server.docRepo))

	submitLimiter, err := ratelimit.Middleware(submitRateLimit)
	if err != nil {
		return err
	}

	v1 := router.Group("/api/v1")

	{
		v1.GET("/ping", health.PingHandler)
		v1.GET("/health", health.Handler(server.engine, server.cache, server.docRepo))

		sessions.RegisterRoutes(v1, server.engine, server.hub, server.tracker, submitLimiter)
		websocket.RegisterRoutes(v1, server.hub, server.engine, server.tracker)
	}

	return nil
}
