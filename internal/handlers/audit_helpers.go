package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/telemetry"
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

// actorFromContext prefers the authenticated user and falls back to the
// X-User-ID header for unauthenticated routes.
func actorFromContext(c *gin.Context) telemetry.Actor {
	actor := telemetry.Actor{RequestID: requestIDFromContext(c)}
	if id, ok := middleware.UserID(c); ok {
		actor.UserID = id
	} else if parsed, err := uuid.Parse(c.GetHeader("X-User-ID")); err == nil {
		actor.UserID = parsed
	}
	return actor
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, level telemetry.Level, text string) {
	if audit == nil {
		return
	}
	audit.Emit(c.Request.Context(), level, text, actorFromContext(c))
}

// writeError renders err with the status its kind maps to. Failures that are
// not the caller's fault are audited.
func writeError(c *gin.Context, audit *telemetry.AuditEmitter, err error) {
	code := apperror.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
		emitAudit(c, audit, telemetry.LevelError, apperror.MessageOf(err))
	}
	c.JSON(code, gin.H{"error": apperror.MessageOf(err)})
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return id, ok
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
