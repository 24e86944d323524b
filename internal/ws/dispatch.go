package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/models"
	"chat-realtime/internal/status"
)

// inbound is a client frame: {"type": ..., "request_id": ..., "data": {...}}.
type inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type sendPayload struct {
	RoomID      *uuid.UUID `json:"room_id"`
	RecipientID *uuid.UUID `json:"recipient_id"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
}

type roomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type typingPayload struct {
	RoomID      *uuid.UUID `json:"room_id"`
	RecipientID *uuid.UUID `json:"recipient_id"`
	IsTyping    bool       `json:"is_typing"`
}

type statusPayload struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
}

type messageSentData struct {
	RequestID string         `json:"request_id,omitempty"`
	Message   models.Message `json:"message"`
}

type statusAckData struct {
	RequestID string `json:"request_id,omitempty"`
	status.Result
}

type pongData struct {
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handler) dispatch(ctx context.Context, conn *Conn, userID uuid.UUID, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		h.replyError(ctx, conn, apperror.Invalid("malformed frame"), "")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := h.handle(ctx, conn, userID, in); err != nil {
		if apperror.KindOf(err) == apperror.KindInternal || apperror.Is(err, apperror.KindTransientIO) {
			h.logger.Error().Err(err).Str("user_id", userID.String()).Str("type", in.Type).Msg("ws command failed")
		}
		h.replyError(ctx, conn, err, in.RequestID)
	}
}

func (h *Handler) handle(ctx context.Context, conn *Conn, userID uuid.UUID, in inbound) error {
	switch in.Type {
	case models.InboundPing:
		return h.reply(ctx, conn, models.EventPong, pongData{RequestID: in.RequestID})

	case models.InboundSendMessage:
		var p sendPayload
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		var (
			msg models.Message
			err error
		)
		switch {
		case p.RoomID != nil:
			msg, err = h.chat.SendGroupMessage(ctx, userID, *p.RoomID, p.Content, p.MessageType)
		case p.RecipientID != nil:
			msg, err = h.chat.SendPrivateMessage(ctx, userID, *p.RecipientID, p.Content, p.MessageType)
		default:
			return apperror.Invalid("room_id or recipient_id is required")
		}
		if err != nil {
			return err
		}
		return h.reply(ctx, conn, models.EventMessageSent, messageSentData{RequestID: in.RequestID, Message: msg})

	case models.InboundJoinRoom, models.InboundLeaveRoom:
		var p roomPayload
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		if p.RoomID == uuid.Nil {
			return apperror.Invalid("room_id is required")
		}
		if in.Type == models.InboundJoinRoom {
			return h.chat.JoinLive(ctx, userID, p.RoomID)
		}
		return h.chat.LeaveLive(ctx, userID, p.RoomID)

	case models.InboundTyping:
		var p typingPayload
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		return h.chat.Typing(ctx, userID, p.RoomID, p.RecipientID, p.IsTyping)

	case models.InboundMessagesDelivered, models.InboundMessagesSeen:
		var p statusPayload
		if err := decode(in.Data, &p); err != nil {
			return err
		}
		mark := h.chat.MarkDelivered
		if in.Type == models.InboundMessagesSeen {
			mark = h.chat.MarkSeen
		}
		res, err := mark(ctx, userID, p.MessageIDs)
		if err != nil {
			return err
		}
		if in.RequestID == "" {
			return nil
		}
		return h.reply(ctx, conn, in.Type, statusAckData{RequestID: in.RequestID, Result: res})
	}
	return apperror.Invalid(fmt.Sprintf("unknown message type %q", in.Type))
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperror.Invalid("data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperror.Invalid("malformed data")
	}
	return nil
}

func (h *Handler) reply(ctx context.Context, conn *Conn, eventType string, data any) error {
	ev, err := models.NewEvent(eventType, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	if err := conn.Send(sendCtx, payload); err != nil {
		h.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("reply dropped")
	}
	return nil
}

func (h *Handler) replyError(ctx context.Context, conn *Conn, err error, requestID string) {
	_ = h.reply(ctx, conn, models.EventError, models.ErrorData{
		Code:      apperror.KindOf(err).String(),
		Message:   apperror.MessageOf(err),
		RequestID: requestID,
	})
}
