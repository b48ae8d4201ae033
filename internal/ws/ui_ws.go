package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-client/internal/observability"
)

// Command types the UI may send.
const (
	CommandWindowFocus = "window_focus"
)

// Command is a frame received from the UI.
type Command struct {
	Type    string `json:"type"`
	Focused bool   `json:"focused"`
}

// FocusSetter receives window focus changes reported by the UI.
type FocusSetter interface {
	SetWindowFocused(focused bool)
}

// UIWebSocketHandler serves the UI push connection.
type UIWebSocketHandler struct {
	hub      *Hub
	focus    FocusSetter
	snapshot func() []Event
}

// NewUIWebSocketHandler constructs a UIWebSocketHandler. snapshot, when set,
// returns the events sent to a UI right after it connects.
func NewUIWebSocketHandler(hub *Hub, focus FocusSetter, snapshot func() []Event) *UIWebSocketHandler {
	return &UIWebSocketHandler{hub: hub, focus: focus, snapshot: snapshot}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the UI.
func (h *UIWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-client/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conn, info)

	observability.IncWSActive("ui")
	observability.IncWSEvent("ui", "ws_connect")
	h.publish(ctx, info, "ws_connect", "")

	if h.snapshot != nil {
		for _, ev := range h.snapshot() {
			if err := h.hub.Send(conn, ev); err != nil {
				log.Printf("websocket snapshot write error conn_id=%s: %v", info.ConnID, err)
				break
			}
		}
	}

	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(conn)
			observability.DecWSActive("ui")
			observability.IncWSEvent("ui", "ws_disconnect")
			h.publish(ctx, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ui", "ws_error")
					h.publish(ctx, info, "ws_error", closeReason)
				}
				return
			}
			h.handleCommand(info, raw)
		}
	}()
}

func (h *UIWebSocketHandler) handleCommand(info ConnInfo, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Printf("websocket bad command conn_id=%s: %v", info.ConnID, err)
		return
	}
	switch cmd.Type {
	case CommandWindowFocus:
		if h.focus != nil {
			h.focus.SetWindowFocused(cmd.Focused)
		}
	default:
		log.Printf("websocket unknown command conn_id=%s type=%q", info.ConnID, cmd.Type)
	}
}

func (h *UIWebSocketHandler) publish(ctx context.Context, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, observability.RoutingUIWebSocket,
		observability.NewEnvelope("ws_events", event, info.payload(event, reason)),
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
