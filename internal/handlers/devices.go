package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/models"
	"chat-realtime/internal/telemetry"
)

type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, userID uuid.UUID, token string, deviceType models.DeviceType) (models.DeviceToken, error)
}

// DeviceHandler registers push tokens.
type DeviceHandler struct {
	devices DeviceRegistrar
	audit   *telemetry.AuditEmitter
}

func NewDeviceHandler(devices DeviceRegistrar, audit *telemetry.AuditEmitter) *DeviceHandler {
	return &DeviceHandler{devices: devices, audit: audit}
}

// Register handles POST /devices.
func (h *DeviceHandler) Register(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Token      string `json:"token" binding:"required"`
		DeviceType string `json:"device_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := h.devices.RegisterDevice(c.Request.Context(), userID, req.Token, models.DeviceType(req.DeviceType))
	if err != nil {
		writeError(c, h.audit, err)
		return
	}
	emitAudit(c, h.audit, telemetry.LevelInfo, "Device registered")
	c.JSON(http.StatusCreated, device)
}
