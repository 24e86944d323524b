package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

// DeviceTokenRepository stores push registrations.
type DeviceTokenRepository interface {
	UpsertToken(ctx context.Context, userID uuid.UUID, token string, deviceType models.DeviceType) (models.DeviceToken, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.DeviceToken, error)
}

// DeviceTokenRepo is a sqlx implementation of DeviceTokenRepository.
type DeviceTokenRepo struct {
	db *sqlx.DB
}

// NewDeviceTokenRepo constructs a DeviceTokenRepo.
func NewDeviceTokenRepo(db *sqlx.DB) *DeviceTokenRepo {
	return &DeviceTokenRepo{db: db}
}

// UpsertToken registers token for userID, taking it over from any previous owner.
func (r *DeviceTokenRepo) UpsertToken(ctx context.Context, userID uuid.UUID, token string, deviceType models.DeviceType) (models.DeviceToken, error) {
	var out models.DeviceToken
	err := r.db.GetContext(ctx, &out, `INSERT INTO device_tokens (user_id, token, device_type) VALUES ($1, $2, $3)
        ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, device_type = EXCLUDED.device_type
        RETURNING id, user_id, token, device_type, created_at`, userID, token, string(deviceType))
	return out, err
}

// ListForUser returns every registered device of the user.
func (r *DeviceTokenRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.DeviceToken, error) {
	var out []models.DeviceToken
	err := r.db.SelectContext(ctx, &out, `SELECT id, user_id, token, device_type, created_at FROM device_tokens WHERE user_id=$1`, userID)
	return out, err
}
