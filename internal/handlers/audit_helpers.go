package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-client/internal/call"
	"chat-client/internal/chat"
	"chat-client/internal/models"
	"chat-client/internal/stream"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var (
		transportErr *models.TransportError
		mediaErr     *call.MediaAccessError
	)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrRoomNotMounted), errors.Is(err, call.ErrNoActiveCall), errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrPendingMessage), errors.Is(err, call.ErrCallInProgress),
		errors.Is(err, call.ErrInvalidState), errors.Is(err, stream.ErrStreamClosed):
		status = http.StatusConflict
	case errors.As(err, &mediaErr):
		status = http.StatusServiceUnavailable
	case errors.As(err, &transportErr):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
