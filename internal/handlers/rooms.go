package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-client/internal/models"
)

// RoomService is the chat coordinator seen by the API.
type RoomService interface {
	MountRoom(ctx context.Context, roomID string, foreground bool) ([]models.Message, error)
	UnmountRoom(roomID string, foreground bool)
	Messages(roomID string) ([]models.Message, error)
	LoadOlder(ctx context.Context, roomID string) (int, error)
	HasMore(roomID string) bool
	Send(ctx context.Context, draft models.Draft) (models.Message, error)
	Edit(ctx context.Context, roomID, messageID, content string) error
	Delete(ctx context.Context, roomID, messageID string) error
}

// RoomHandler manages room view and message endpoints.
type RoomHandler struct {
	rooms RoomService
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// MountRoom opens a room view and returns its newest messages.
func (h *RoomHandler) MountRoom(c *gin.Context) {
	var req struct {
		Foreground bool `json:"foreground"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	roomID := c.Param("room_id")
	msgs, err := h.rooms.MountRoom(c.Request.Context(), roomID, req.Foreground)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": nonNilMessages(msgs), "has_more": h.rooms.HasMore(roomID)})
}

// UnmountRoom closes one view of a room. ?foreground=true releases a
// full-screen view.
func (h *RoomHandler) UnmountRoom(c *gin.Context) {
	foreground, err := strconv.ParseBool(c.DefaultQuery("foreground", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid foreground flag"})
		return
	}
	h.rooms.UnmountRoom(c.Param("room_id"), foreground)
	c.Status(http.StatusNoContent)
}

// GetMessages returns the loaded messages of a mounted room.
func (h *RoomHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	msgs, err := h.rooms.Messages(roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": nonNilMessages(msgs), "has_more": h.rooms.HasMore(roomID)})
}

// LoadOlder fetches the next page of history.
func (h *RoomHandler) LoadOlder(c *gin.Context) {
	roomID := c.Param("room_id")
	added, err := h.rooms.LoadOlder(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "has_more": h.rooms.HasMore(roomID)})
}

type fileRequest struct {
	Name     string `json:"name" binding:"required"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// PostMessage sends a message to a room. File data is base64 encoded.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content   string        `json:"content"`
		ReplyToID string        `json:"reply_to_id"`
		Files     []fileRequest `json:"files" binding:"dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	draft := models.Draft{RoomID: c.Param("room_id"), Content: req.Content, ReplyToID: req.ReplyToID}
	for _, f := range req.Files {
		draft.Files = append(draft.Files, models.Upload{Name: f.Name, MimeType: f.MimeType, Data: f.Data})
	}

	msg, err := h.rooms.Send(c.Request.Context(), draft)
	if err != nil {
		if msg.ID != "" {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "message": msg})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

// EditMessage replaces a message's content.
func (h *RoomHandler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.rooms.Edit(c.Request.Context(), c.Param("room_id"), c.Param("message_id"), req.Content); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// DeleteMessage deletes a message for everyone.
func (h *RoomHandler) DeleteMessage(c *gin.Context) {
	if err := h.rooms.Delete(c.Request.Context(), c.Param("room_id"), c.Param("message_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func nonNilMessages(msgs []models.Message) []models.Message {
	if msgs == nil {
		return []models.Message{}
	}
	return msgs
}
