package ws

import (
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/observability"
)

// ConnInfo is what lifecycle events report about one socket.
type ConnInfo struct {
	ConnID      string
	UserID      uuid.UUID
	Client      observability.ClientMeta
	TraceID     string
	ConnectedAt time.Time
}
