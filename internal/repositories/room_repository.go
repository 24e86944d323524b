package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

const roomColumns = `id, kind, name, created_by, pair_key, created_at`

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error)
	FindPrivateRoom(ctx context.Context, pairKey string) (models.Room, error)
	CreatePrivateRoom(ctx context.Context, pairKey string, creatorID uuid.UUID, memberIDs []uuid.UUID) (models.Room, bool, error)
	CreateGroupRoom(ctx context.Context, creatorID uuid.UUID, name string) (models.Room, error)
	AddMember(ctx context.Context, roomID, userID uuid.UUID) error
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	ListMemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// GetRoom fetches a single room.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// FindPrivateRoom returns the private room registered under pairKey.
func (r *RoomRepo) FindPrivateRoom(ctx context.Context, pairKey string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE kind='private' AND pair_key=$1`, pairKey)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// CreatePrivateRoom inserts a private room and its memberships atomically.
// When another writer already owns pairKey, that room is returned with created=false.
func (r *RoomRepo) CreatePrivateRoom(ctx context.Context, pairKey string, creatorID uuid.UUID, memberIDs []uuid.UUID) (models.Room, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var room models.Room
	err = tx.GetContext(ctx, &room, `INSERT INTO rooms (kind, created_by, pair_key) VALUES ('private', $1, $2)
        ON CONFLICT (pair_key) DO NOTHING
        RETURNING `+roomColumns, creatorID, pairKey)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		err = nil
		winner, findErr := r.FindPrivateRoom(ctx, pairKey)
		return winner, false, findErr
	}
	if err != nil {
		return models.Room{}, false, err
	}

	for _, id := range memberIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, room.ID, id); err != nil {
			return models.Room{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, false, err
	}
	return room, true, nil
}

// CreateGroupRoom creates a named group room with the creator as its first member.
func (r *RoomRepo) CreateGroupRoom(ctx context.Context, creatorID uuid.UUID, name string) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var room models.Room
	err = tx.GetContext(ctx, &room, `INSERT INTO rooms (kind, name, created_by) VALUES ('group', $1, $2) RETURNING `+roomColumns, name, creatorID)
	if isUniqueViolation(err, "rooms_group_name_key") {
		return models.Room{}, ErrDuplicateRoomName
	}
	if err != nil {
		return models.Room{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room.ID, creatorID); err != nil {
		return models.Room{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// AddMember inserts a membership row.
func (r *RoomRepo) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, roomID, userID)
	if isUniqueViolation(err, "room_members_pkey") {
		return ErrDuplicateMembership
	}
	return err
}

// IsMember checks membership.
func (r *RoomRepo) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// ListMemberIDs returns the ids of every member of the room.
func (r *RoomRepo) ListMemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM room_members WHERE room_id=$1 ORDER BY joined_at`, roomID)
	return ids, err
}

// ListRoomsForUser returns rooms that include the user.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, `SELECT r.id, r.kind, r.name, r.created_by, r.pair_key, r.created_at
        FROM rooms r INNER JOIN room_members rm ON rm.room_id = r.id
        WHERE rm.user_id=$1 ORDER BY r.created_at DESC`, userID)
	return rooms, err
}
