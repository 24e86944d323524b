package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Actor identifies the request and user behind an audited action.
type Actor struct {
	RequestID string
	UserID    uuid.UUID
}

// AuditEmitter publishes audit lines for user-visible actions.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      zerolog.Logger
	now         func() time.Time
}

// AuditEnvelope is the audit_log schema consumed by the audit pipeline.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
		now:         time.Now,
	}
}

// Emit publishes one audit line. Publish failures are logged only.
func (e *AuditEmitter) Emit(ctx context.Context, level Level, text string, actor Actor) {
	if e == nil || e.publisher == nil {
		return
	}

	env := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     actor.RequestID,
		Payload:       AuditPayload{Level: level, Text: text},
	}
	if actor.UserID != uuid.Nil {
		id := actor.UserID.String()
		env.UserID = &id
	}

	e.logger.Debug().Str("level", string(level)).Str("request_id", actor.RequestID).Str("text", text).Msg("audit emit")
	if err := e.publisher.Publish(ctx, e.routingKey, env); err != nil {
		e.logger.Warn().Err(err).Str("routing_key", e.routingKey).Msg("audit publish failed")
	}
}
