package ws

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo describes one UI websocket connection.
type ConnInfo struct {
	ConnID      string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}

func (i ConnInfo) payload(event, reason string) map[string]interface{} {
	duration := int64(0)
	if !i.ConnectedAt.IsZero() {
		duration = time.Since(i.ConnectedAt).Milliseconds()
	}
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "ui",
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"ip": i.IP,
		},
	}
}
