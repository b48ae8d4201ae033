package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/models"
)

// SessionService is the popup registry seen by the API.
type SessionService interface {
	Open(roomID, displayName, avatarRef string) bool
	Close(roomID string)
	ToggleMinimize(roomID string) (bool, bool)
	List() []models.ChatSession
	Visible() ([]models.ChatSession, int)
}

// FocusService tracks the UI focus.
type FocusService interface {
	SetWindowFocused(focused bool)
	Snapshot() models.FocusContext
}

// SessionHandler manages chat popup endpoints.
type SessionHandler struct {
	sessions SessionService
	focus    FocusService
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessions SessionService, focus FocusService) *SessionHandler {
	return &SessionHandler{sessions: sessions, focus: focus}
}

// ListSessions returns every popup plus the visible subset.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	visible, overflow := h.sessions.Visible()
	c.JSON(http.StatusOK, gin.H{
		"sessions": nonNil(h.sessions.List()),
		"visible":  nonNil(visible),
		"overflow": overflow,
	})
}

// OpenSession opens or refreshes the popup of a room.
func (h *SessionHandler) OpenSession(c *gin.Context) {
	var req struct {
		RoomID      string `json:"room_id" binding:"required"`
		DisplayName string `json:"display_name"`
		AvatarRef   string `json:"avatar_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opened := h.sessions.Open(req.RoomID, req.DisplayName, req.AvatarRef)
	c.JSON(http.StatusOK, gin.H{"opened": opened})
}

// CloseSession removes a room's popup.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	h.sessions.Close(c.Param("room_id"))
	c.Status(http.StatusNoContent)
}

// ToggleMinimize flips a popup between minimized and expanded.
func (h *SessionHandler) ToggleMinimize(c *gin.Context) {
	minimized, ok := h.sessions.ToggleMinimize(c.Param("room_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"minimized": minimized})
}

// GetFocus returns the foreground room and window focus.
func (h *SessionHandler) GetFocus(c *gin.Context) {
	c.JSON(http.StatusOK, h.focus.Snapshot())
}

// SetWindowFocus records whether the UI window has focus.
func (h *SessionHandler) SetWindowFocus(c *gin.Context) {
	var req struct {
		WindowFocused *bool `json:"window_focused" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.focus.SetWindowFocused(*req.WindowFocused)
	c.JSON(http.StatusOK, h.focus.Snapshot())
}

func nonNil(sessions []models.ChatSession) []models.ChatSession {
	if sessions == nil {
		return []models.ChatSession{}
	}
	return sessions
}
