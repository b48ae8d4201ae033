package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints. channelState reports the
// event channel connection state.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, channelState func() string, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/channel", func(c *gin.Context) {
		state := "unknown"
		if channelState != nil {
			state = channelState()
		}
		c.JSON(http.StatusOK, gin.H{"state": state})
	})
}
