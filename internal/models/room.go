package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomKind distinguishes group rooms from two-party rooms.
type RoomKind string

const (
	RoomGroup   RoomKind = "group"
	RoomPrivate RoomKind = "private"
)

// Room is either a named group room or a private room for one user pair.
type Room struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Kind      RoomKind  `db:"kind" json:"kind"`
	Name      *string   `db:"name" json:"name,omitempty"`
	CreatedBy uuid.UUID `db:"created_by" json:"created_by"`
	PairKey   *string   `db:"pair_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (r Room) IsPrivate() bool {
	return r.Kind == RoomPrivate
}

// Membership links a user to a room.
type Membership struct {
	RoomID   uuid.UUID `db:"room_id" json:"room_id"`
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// PairKey returns the canonical key of an unordered user pair.
func PairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}
