package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GetHealth handles GET /health. It reports "degraded" with 503 when the database does not answer.
func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("health check: database ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "timestamp": now, "error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": now})
}
