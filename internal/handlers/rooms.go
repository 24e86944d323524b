package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/rooms"
	"chat-realtime/internal/telemetry"
)

// RoomHandler manages room endpoints.
type RoomHandler struct {
	rooms *rooms.Service
	audit *telemetry.AuditEmitter
}

func NewRoomHandler(svc *rooms.Service, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{rooms: svc, audit: audit}
}

// ListRooms handles GET /rooms.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.rooms.ListUserRooms(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": list})
}

// CreateRoom handles POST /rooms.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, telemetry.LevelError, "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateGroup(c.Request.Context(), userID, req.Name)
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	emitAudit(c, h.audit, telemetry.LevelInfo, "Room created")
	c.JSON(http.StatusCreated, room)
}

// ResolvePrivate handles POST /rooms/private.
func (h *RoomHandler) ResolvePrivate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		UserID uuid.UUID `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.Resolve(c.Request.Context(), userID, req.UserID)
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// JoinRoom handles POST /rooms/:room_id/join.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathUUID(c, "room_id")
	if !ok {
		return
	}

	room, err := h.rooms.JoinGroup(c.Request.Context(), userID, roomID)
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	emitAudit(c, h.audit, telemetry.LevelInfo, "Room joined")
	c.JSON(http.StatusOK, room)
}
