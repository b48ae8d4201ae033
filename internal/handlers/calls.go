package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/models"
	"chat-client/internal/telemetry"
)

// CallService is the local call line seen by the API.
type CallService interface {
	Initiate(ctx context.Context, peerID string) (models.CallSession, error)
	Accept(ctx context.Context) (models.CallSession, error)
	Reject(ctx context.Context) error
	HangUp(ctx context.Context) error
	Current() (models.CallSession, bool)
}

// CallHandler manages call endpoints.
type CallHandler struct {
	calls CallService
	audit *telemetry.AuditEmitter
}

// NewCallHandler builds a CallHandler. audit may be nil.
func NewCallHandler(calls CallService, audit *telemetry.AuditEmitter) *CallHandler {
	return &CallHandler{calls: calls, audit: audit}
}

// Initiate places a call to a peer.
func (h *CallHandler) Initiate(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "call initiate peer_id="+req.PeerID, requestIDFromContext(c))
	session, err := h.calls.Initiate(c.Request.Context(), req.PeerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": session})
}

// Accept answers the ringing call.
func (h *CallHandler) Accept(c *gin.Context) {
	h.audit.Emit(c.Request.Context(), "INFO", "call accept", requestIDFromContext(c))
	session, err := h.calls.Accept(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": session})
}

// Reject declines the ringing call.
func (h *CallHandler) Reject(c *gin.Context) {
	h.audit.Emit(c.Request.Context(), "INFO", "call reject", requestIDFromContext(c))
	if err := h.calls.Reject(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.writeCurrent(c)
}

// HangUp ends the active call.
func (h *CallHandler) HangUp(c *gin.Context) {
	h.audit.Emit(c.Request.Context(), "INFO", "call hangup", requestIDFromContext(c))
	if err := h.calls.HangUp(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.writeCurrent(c)
}

// Current returns the active or most recent call.
func (h *CallHandler) Current(c *gin.Context) {
	if _, ok := h.calls.Current(); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no call"})
		return
	}
	h.writeCurrent(c)
}

func (h *CallHandler) writeCurrent(c *gin.Context) {
	session, ok := h.calls.Current()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": session})
}
