package observability

import (
	"context"
	"sync"

	"chat-realtime/internal/rabbitmq"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher rabbitmq.Publisher
)

func SetPublisher(publisher rabbitmq.Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent sends an operational event through the configured publisher.
func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	err := publisher.Publish(rabbitmq.WithHeaders(ctx, headers), routingKey, message)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
