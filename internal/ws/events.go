package ws

import (
	"context"
	"time"

	"chat-realtime/internal/observability"
)

const wsRoutingKey = "ws_events.connections"

// publishLifecycle reports a connect, disconnect or error of one connection.
func publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	var duration int64
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID.String(),
				"device_id": info.Client.DeviceID,
				"ip":        info.Client.IP,
			},
		},
	}, observability.BuildHeaders(info.Client.RequestID, info.TraceID))
}
