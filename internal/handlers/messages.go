package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/telemetry"
)

// MessageHandler manages message and status endpoints.
type MessageHandler struct {
	chat  *chat.Service
	audit *telemetry.AuditEmitter
}

func NewMessageHandler(svc *chat.Service, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{chat: svc, audit: audit}
}

type sendRequest struct {
	Content     string `json:"content" binding:"required"`
	MessageType string `json:"message_type"`
}

// ListMessages handles GET /rooms/:room_id/messages?limit=&offset=.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathUUID(c, "room_id")
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(chat.DefaultHistoryLimit)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	msgs, err := h.chat.History(c.Request.Context(), userID, roomID, limit, offset)
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostRoomMessage handles POST /rooms/:room_id/messages.
func (h *MessageHandler) PostRoomMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathUUID(c, "room_id")
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, telemetry.LevelError, "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chat.SendGroupMessage(c.Request.Context(), userID, roomID, req.Content, req.MessageType)
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// PostPrivateMessage handles POST /messages/private.
func (h *MessageHandler) PostPrivateMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		sendRequest
		RecipientID uuid.UUID `json:"recipient_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chat.SendPrivateMessage(c.Request.Context(), userID, req.RecipientID, req.Content, req.MessageType)
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkDelivered handles POST /messages/delivered.
func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	h.advance(c, models.StatusDelivered)
}

// MarkSeen handles POST /messages/seen.
func (h *MessageHandler) MarkSeen(c *gin.Context) {
	h.advance(c, models.StatusSeen)
}

func (h *MessageHandler) advance(c *gin.Context, target models.MessageStatus) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		MessageIDs []uuid.UUID `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mark := h.chat.MarkDelivered
	if target == models.StatusSeen {
		mark = h.chat.MarkSeen
	}
	res, err := mark(c.Request.Context(), userID, req.MessageIDs)
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
