package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the delivery state of a message. Values are ordered.
type MessageStatus int16

const (
	StatusSent MessageStatus = iota
	StatusDelivered
	StatusSeen
)

func (s MessageStatus) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	default:
		return fmt.Sprintf("status(%d)", int16(s))
	}
}

// ParseMessageStatus converts the wire name of a status.
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch s {
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "seen":
		return StatusSeen, nil
	}
	return 0, fmt.Errorf("unknown message status %q", s)
}

func (s MessageStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *MessageStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseMessageStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

const (
	MessageTypeText   = "text"
	MaxMessageContent = 2000
)

// Message is a persisted chat message.
type Message struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	RoomID      uuid.UUID     `db:"room_id" json:"room_id"`
	SenderID    uuid.UUID     `db:"sender_id" json:"sender_id"`
	Content     string        `db:"content" json:"content"`
	MessageType string        `db:"message_type" json:"message_type"`
	Status      MessageStatus `db:"status" json:"status"`
	RecipientID *uuid.UUID    `db:"recipient_id" json:"recipient_id,omitempty"`
	IsPrivate   bool          `db:"is_private" json:"is_private"`
	IsEdited    bool          `db:"is_edited" json:"is_edited"`
	IsDeleted   bool          `db:"is_deleted" json:"is_deleted"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// NewMessage describes a message about to be stored.
type NewMessage struct {
	RoomID      uuid.UUID
	SenderID    uuid.UUID
	Content     string
	MessageType string
	RecipientID *uuid.UUID
	IsPrivate   bool
}

// StatusCandidate is a message loaded for a status transition together with
// what the requester may do with it.
type StatusCandidate struct {
	ID                uuid.UUID     `db:"id"`
	RoomID            uuid.UUID     `db:"room_id"`
	RoomKind          RoomKind      `db:"room_kind"`
	SenderID          uuid.UUID     `db:"sender_id"`
	RecipientID       *uuid.UUID    `db:"recipient_id"`
	Status            MessageStatus `db:"status"`
	RequesterIsMember bool          `db:"requester_is_member"`
}

// StatusChange is one row moved forward by a status update.
type StatusChange struct {
	ID          uuid.UUID  `db:"id"`
	RoomID      uuid.UUID  `db:"room_id"`
	RoomKind    RoomKind   `db:"room_kind"`
	SenderID    uuid.UUID  `db:"sender_id"`
	RecipientID *uuid.UUID `db:"recipient_id"`
}
