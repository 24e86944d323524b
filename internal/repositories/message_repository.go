package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

const messageColumns = `id, room_id, sender_id, content, message_type, status, recipient_id, is_private, is_edited, is_deleted, created_at`

// MessageRepository defines interactions for messages and their delivery status.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]models.Message, error)
	LoadStatusCandidates(ctx context.Context, messageIDs []uuid.UUID, requesterID uuid.UUID) ([]models.StatusCandidate, error)
	AdvanceStatus(ctx context.Context, messageIDs []uuid.UUID, target models.MessageStatus) ([]models.StatusChange, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message with status sent.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	var out models.Message
	err := r.db.GetContext(ctx, &out, `INSERT INTO messages (room_id, sender_id, content, message_type, recipient_id, is_private)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		msg.RoomID, msg.SenderID, msg.Content, msg.MessageType, msg.RecipientID, msg.IsPrivate)
	return out, err
}

// ListRoomMessages returns one page of the room's history, oldest first.
// Pages are counted from the newest message.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE room_id=$1 AND is_deleted = FALSE
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LoadStatusCandidates loads the messages together with the room kind and
// whether requesterID currently belongs to the room.
func (r *MessageRepo) LoadStatusCandidates(ctx context.Context, messageIDs []uuid.UUID, requesterID uuid.UUID) ([]models.StatusCandidate, error) {
	var out []models.StatusCandidate
	err := r.db.SelectContext(ctx, &out, `SELECT m.id, m.room_id, r.kind AS room_kind, m.sender_id, m.recipient_id, m.status,
            EXISTS(SELECT 1 FROM room_members rm WHERE rm.room_id = m.room_id AND rm.user_id = $2) AS requester_is_member
        FROM messages m INNER JOIN rooms r ON r.id = m.room_id
        WHERE m.id = ANY($1::uuid[]) AND m.is_deleted = FALSE`, uuidArray(messageIDs), requesterID)
	return out, err
}

// AdvanceStatus moves the given messages to target in one statement.
// Rows already at or beyond target are left untouched and not returned.
func (r *MessageRepo) AdvanceStatus(ctx context.Context, messageIDs []uuid.UUID, target models.MessageStatus) ([]models.StatusChange, error) {
	var out []models.StatusChange
	err := r.db.SelectContext(ctx, &out, `UPDATE messages m SET status = $2
        FROM rooms r
        WHERE r.id = m.room_id AND m.id = ANY($1::uuid[]) AND m.status < $2
        RETURNING m.id, m.room_id, r.kind AS room_kind, m.sender_id, m.recipient_id`, uuidArray(messageIDs), int16(target))
	return out, err
}
