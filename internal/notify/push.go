package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/repositories"
)

// Notification is what an offline user is told about.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notifier delivers out-of-band notifications. Failures are logged, never returned.
type Notifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, n Notification)
}

// PushJob is the message a push worker consumes from the exchange.
type PushJob struct {
	Token        string            `json:"token"`
	DeviceType   string            `json:"device_type"`
	UserID       string            `json:"user_id"`
	Notification *PushBlock        `json:"notification,omitempty"`
	Data         map[string]string `json:"data"`
}

type PushBlock struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushNotifier fans a notification out to every registered device of a user.
type PushNotifier struct {
	tokens    repositories.DeviceTokenRepository
	publisher rabbitmq.Publisher
	logger    zerolog.Logger
}

func NewPushNotifier(tokens repositories.DeviceTokenRepository, publisher rabbitmq.Publisher, logger zerolog.Logger) *PushNotifier {
	return &PushNotifier{tokens: tokens, publisher: publisher, logger: logger}
}

func (p *PushNotifier) NotifyUser(ctx context.Context, userID uuid.UUID, n Notification) {
	devices, err := p.tokens.ListForUser(ctx, userID)
	if err != nil {
		p.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("load device tokens failed")
		return
	}
	for _, d := range devices {
		job := buildJob(userID, d, n)
		result := "ok"
		if err := p.publisher.Publish(ctx, "push."+string(d.DeviceType), job); err != nil {
			result = "error"
			p.logger.Warn().Err(err).Str("user_id", userID.String()).Str("device_type", string(d.DeviceType)).Msg("push job publish failed")
		}
		observability.IncPushJob(string(d.DeviceType), result)
	}
}

// Web clients render the notification block; mobile clients get data-only
// messages and build the alert themselves.
func buildJob(userID uuid.UUID, d models.DeviceToken, n Notification) PushJob {
	data := make(map[string]string, len(n.Data)+4)
	for k, v := range n.Data {
		data[k] = v
	}
	job := PushJob{
		Token:      d.Token,
		DeviceType: string(d.DeviceType),
		UserID:     userID.String(),
		Data:       data,
	}
	if d.DeviceType == models.DeviceWeb {
		job.Notification = &PushBlock{Title: n.Title, Body: n.Body}
		return job
	}
	data["title"] = n.Title
	data["body"] = n.Body
	data["badge"] = "1"
	data["sound"] = "default"
	return job
}

// RegisterDevice stores a push token for userID.
func (p *PushNotifier) RegisterDevice(ctx context.Context, userID uuid.UUID, token string, deviceType models.DeviceType) (models.DeviceToken, error) {
	if token == "" {
		return models.DeviceToken{}, apperror.Invalid("token is required")
	}
	if !deviceType.Valid() {
		return models.DeviceToken{}, apperror.Invalid("device_type must be web, android or ios")
	}
	out, err := p.tokens.UpsertToken(ctx, userID, token, deviceType)
	if err != nil {
		return models.DeviceToken{}, apperror.Transient("register device", err)
	}
	return out, nil
}
