package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Outbound event types pushed to clients.
const (
	EventNewMessage          = "new_message"
	EventMessageStatusUpdate = "message_status_update"
	EventUserJoinedRoom      = "user_joined_room"
	EventUserLeftRoom        = "user_left_room"
	EventTypingIndicator     = "typing_indicator"
	EventMessageSent         = "message_sent"
	EventPong                = "pong"
	EventError               = "error"
)

// Inbound event types sent by clients.
const (
	InboundSendMessage       = "send_message"
	InboundJoinRoom          = "join_room"
	InboundLeaveRoom         = "leave_room"
	InboundTyping            = "typing"
	InboundMessagesDelivered = "messages_delivered"
	InboundMessagesSeen      = "messages_seen"
	InboundPing              = "ping"
)

// Event is the {type, data} envelope used on every client-facing channel.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event.
func NewEvent(eventType string, data any) (Event, error) {
	if data == nil {
		return Event{Type: eventType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

type StatusUpdateData struct {
	RoomID     uuid.UUID     `json:"room_id"`
	MessageIDs []uuid.UUID   `json:"message_ids"`
	Status     MessageStatus `json:"status"`
	UpdatedBy  uuid.UUID     `json:"updated_by"`
}

type RoomPresenceData struct {
	RoomID uuid.UUID `json:"room_id"`
	UserID uuid.UUID `json:"user_id"`
}

type TypingData struct {
	UserID   uuid.UUID  `json:"user_id"`
	RoomID   *uuid.UUID `json:"room_id,omitempty"`
	IsTyping bool       `json:"is_typing"`
}

type ErrorData struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
