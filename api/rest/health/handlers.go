package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tablewise/dashsync/internal/cache"
	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/documents"
)

const checkTimeout = 2 * time.Second

// reports service health including cache and database reachability.
// A degraded dependency does not fail the check: the sync engine keeps
// serving sessions from memory.
func Handler(engine *collab.Engine, store *cache.Cache, repo *documents.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()

		checks := make(map[string]string)
		status := "healthy"

		if store != nil {
			if err := store.Ping(ctx); err != nil {
				checks["cache"] = "unreachable"
				status = "degraded"
			} else {
				checks["cache"] = "ok"
			}
		}

		if repo != nil {
			if err := repo.Ping(ctx); err != nil {
				checks["database"] = "unreachable"
				status = "degraded"
			} else {
				checks["database"] = "ok"
			}
		}

		c.JSON(http.StatusOK, Response{
			Status:   status,
			Service:  "dashsync",
			Sessions: engine.SessionCount(),
			Checks:   checks,
		})
	}
}

// responds with pong for connectivity testing
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}
