package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

const writeWait = 10 * time.Second

// Event types pushed to UI connections.
const (
	EventSessions            = "sessions"
	EventStream              = "stream"
	EventCall                = "call"
	EventSound               = "sound"
	EventNotification        = "notification"
	EventNotificationDismiss = "notification_dismissed"
	EventChannelState        = "channel_state"
)

// Event is one frame pushed to the UI.
type Event struct {
	Type         string               `json:"type"`
	Sessions     []models.ChatSession `json:"sessions,omitempty"`
	Visible      []models.ChatSession `json:"visible,omitempty"`
	Overflow     int                  `json:"overflow,omitempty"`
	RoomID       string               `json:"room_id,omitempty"`
	Messages     []models.Message     `json:"messages,omitempty"`
	Call         *models.CallSession  `json:"call,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
	State        string               `json:"state,omitempty"`
}

type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains the UI websocket connections.
type Hub struct {
	clients map[*websocket.Conn]*client
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*client)}
}

// AddClient registers a UI connection.
func (h *Hub) AddClient(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = &client{conn: conn, info: info}
}

// RemoveClient drops a UI connection.
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Len returns the number of connected UIs.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes ev to a single connection.
func (h *Hub) Send(conn *websocket.Conn, ev Event) error {
	h.mu.RLock()
	c, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.write(payload)
}

// Broadcast sends ev to every UI. Connections failing a write are closed.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("websocket encode error type=%s: %v", ev.Type, err)
		return
	}
	for _, c := range clients {
		if err := c.write(payload); err != nil {
			log.Printf("websocket write error conn_id=%s: %v", c.info.ConnID, err)
			if c.conn != nil {
				c.conn.Close()
			}
			h.RemoveClient(c.conn)
			h.publishWSError(c.info, err)
		}
	}
	observability.IncWSEvent("ui", ev.Type)
}

// BroadcastSessions pushes the popup list.
func (h *Hub) BroadcastSessions(sessions, visible []models.ChatSession, overflow int) {
	h.Broadcast(Event{Type: EventSessions, Sessions: sessions, Visible: visible, Overflow: overflow})
}

// BroadcastStream pushes a room's messages.
func (h *Hub) BroadcastStream(roomID string, messages []models.Message) {
	h.Broadcast(Event{Type: EventStream, RoomID: roomID, Messages: messages})
}

// BroadcastCall pushes a call session change.
func (h *Hub) BroadcastCall(session models.CallSession) {
	h.Broadcast(Event{Type: EventCall, Call: &session})
}

// BroadcastChannelState pushes the event channel connection state.
func (h *Hub) BroadcastChannelState(state string) {
	h.Broadcast(Event{Type: EventChannelState, State: state})
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), observability.RoutingUIWebSocket,
		observability.NewEnvelope("ws_events", "ws_error", info.payload("ws_error", err.Error())), headers)
	observability.IncWSEvent("ui", "ws_error")
}
