package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tablewise/dashsync/internal/cache"
	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/config"
	"github.com/tablewise/dashsync/internal/documents"
	"github.com/tablewise/dashsync/internal/logger"
	"github.com/tablewise/dashsync/internal/presence"
	ws "github.com/tablewise/dashsync/internal/websocket"
)

const (
	// how long persisted operation history is retained in the cache
	historyRetention = 24 * time.Hour

	// REST operation submissions per client IP
	submitRateLimit = "60-M"
)

// creates and configures a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// the sync engine serves from memory; the pool only feeds join
	// snapshots and eviction checkpoints, so it stays small
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	docRepo := documents.NewRepository(db)

	// cache store degrades to in-process memory when redis is down so
	// a cache outage never blocks collaboration
	store := newCacheStore(cfg)

	historyStore := collab.NewCacheHistoryStore(store, historyRetention)

	hub := ws.NewHub()

	tracker := presence.NewTracker(presence.Options{
		IdleTimeout: cfg.PresenceIdleTimeout,
		Cache:       store,
		OnEvict: func(documentID, userID string) {
			// dropping a live socket already broadcasts user_left via
			// the disconnect callback; only announce when none existed
			if !hub.Disconnect(documentID, userID) {
				notifyUserLeft(hub, documentID, userID)
			}
		},
	})

	engine := collab.NewEngine(collab.Options{
		IdleTimeout: cfg.SessionIdleTimeout,
		History:     historyStore,
		Documents:   docRepo,
		OnSessionEvicted: func(documentID string, version int64) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			purged := historyStore.Purge(ctx, documentID)
			logger.Info("session history purged",
				"document_id", documentID,
				"version", version,
				"purged", purged,
			)
		},
	})

	hub.RegisterHandler(ws.TypeOperation, ws.OperationHandler(engine))
	hub.RegisterHandler(ws.TypeCursorMove, ws.CursorHandler(tracker))
	hub.RegisterHandler(ws.TypeActivityUpdate, ws.ActivityHandler(tracker))
	hub.RegisterHandler(ws.TypeSyncRequest, ws.SyncRequestHandler(engine))
	hub.RegisterHandler(ws.TypePing, ws.PingHandler(tracker))

	// a closed connection is a leave for both the engine and the
	// tracker; remaining participants hear about it
	hub.OnClientDisconnect(func(client *ws.Client) {
		engine.Leave(client.DocumentID, client.UserID)
		tracker.Leave(client.DocumentID, client.UserID)

		msg, err := ws.NewMessage(ws.TypeUserLeft, client.DocumentID, client.UserID, ws.UserLeftPayload{
			UserID:   client.UserID,
			Username: client.Username,
		})
		if err != nil {
			return
		}

		hub.BroadcastToDocument(client.DocumentID, msg, client.UserID)
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	server := &Server{
		db:      db,
		config:  cfg,
		cache:   store,
		history: historyStore,
		docRepo: docRepo,
		engine:  engine,
		tracker: tracker,
		hub:     hub,
		router:  router,
	}

	if err := RegisterRoutes(router, server); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}

	return server, nil
}

// connects the cache store, preferring redis and falling back to an
// in-process memory backend when redis is unreachable
func newCacheStore(cfg *config.Config) *cache.Cache {
	backend, err := cache.NewRedisBackendFromURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory cache backend", "error", err)

		return cache.New(cache.NewMemoryBackend(), cfg.CacheDefaultTTL)
	}

	logger.Info("cache store connected", "backend", "redis")

	return cache.New(backend, cfg.CacheDefaultTTL)
}

// tells the remaining participants that a user timed out
func notifyUserLeft(hub *ws.Hub, documentID, userID string) {
	msg, err := ws.NewMessage(ws.TypeUserLeft, documentID, userID, ws.UserLeftPayload{
		UserID: userID,
	})
	if err != nil {
		return
	}

	hub.BroadcastToDocument(documentID, msg, userID)
}
