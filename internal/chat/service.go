package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/fanout"
	"chat-realtime/internal/models"
	"chat-realtime/internal/notify"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/status"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Rooms is the room lookup and resolution the chat service depends on.
type Rooms interface {
	Resolve(ctx context.Context, a, b uuid.UUID) (models.Room, error)
	GetRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error)
	RequireMember(ctx context.Context, userID, roomID uuid.UUID) (models.Room, error)
	MemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// Messages is the message persistence the chat service writes through.
type Messages interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]models.Message, error)
}

// Realtime is the presence and fanout layer.
type Realtime interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, event models.Event, opts ...fanout.PublishOption) error
	PublishToRoom(ctx context.Context, roomID uuid.UUID, event models.Event, opts ...fanout.PublishOption) error
	JoinRoom(ctx context.Context, userID, roomID uuid.UUID) error
	LeaveRoom(ctx context.Context, userID, roomID uuid.UUID) error
	OnlineAmong(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

type StatusEngine interface {
	MarkDelivered(ctx context.Context, messageIDs []uuid.UUID, requesterID uuid.UUID) (status.Result, error)
	MarkSeen(ctx context.Context, messageIDs []uuid.UUID, requesterID uuid.UUID) (status.Result, error)
}

// Service implements sending, history, live room membership and typing.
type Service struct {
	rooms    Rooms
	messages Messages
	users    repositories.UserRepository
	realtime Realtime
	status   StatusEngine
	notifier notify.Notifier
	logger   zerolog.Logger
}

func NewService(rooms Rooms, messages Messages, users repositories.UserRepository, realtime Realtime, engine StatusEngine, notifier notify.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		rooms:    rooms,
		messages: messages,
		users:    users,
		realtime: realtime,
		status:   engine,
		notifier: notifier,
		logger:   logger,
	}
}

// SendGroupMessage stores a message in a group room and fans it out to every member.
func (s *Service) SendGroupMessage(ctx context.Context, senderID, roomID uuid.UUID, content, messageType string) (models.Message, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return models.Message{}, err
	}
	if room.IsPrivate() {
		return models.Message{}, apperror.Unauthorized("cannot send group messages to private rooms")
	}
	if _, err := s.rooms.RequireMember(ctx, senderID, roomID); err != nil {
		return models.Message{}, err
	}
	content, messageType, err = validateContent(content, messageType)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := s.messages.CreateMessage(ctx, models.NewMessage{
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
	})
	if err != nil {
		return models.Message{}, apperror.Transient("store message", err)
	}

	members, err := s.rooms.MemberIDs(ctx, roomID)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID.String()).Msg("load members for fanout failed")
		return msg, nil
	}
	s.broadcast(ctx, msg, members)

	title := "New message"
	if room.Name != nil {
		title = "New message in " + *room.Name
	}
	s.notifyOffline(ctx, msg, members, senderID, title)
	return msg, nil
}

// SendPrivateMessage stores a message in the private room shared with
// targetID, creating the room on first contact.
func (s *Service) SendPrivateMessage(ctx context.Context, senderID, targetID uuid.UUID, content, messageType string) (models.Message, error) {
	content, messageType, err := validateContent(content, messageType)
	if err != nil {
		return models.Message{}, err
	}
	room, err := s.rooms.Resolve(ctx, senderID, targetID)
	if err != nil {
		return models.Message{}, err
	}

	recipient := targetID
	msg, err := s.messages.CreateMessage(ctx, models.NewMessage{
		RoomID:      room.ID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		RecipientID: &recipient,
		IsPrivate:   true,
	})
	if err != nil {
		return models.Message{}, apperror.Transient("store message", err)
	}

	participants := []uuid.UUID{senderID}
	if targetID != senderID {
		participants = append(participants, targetID)
	}
	s.broadcast(ctx, msg, participants)

	if targetID != senderID {
		title := "New message"
		if sender, err := s.users.GetUser(ctx, senderID); err == nil {
			title = "New message from " + sender.Username
		}
		s.notifyOffline(ctx, msg, []uuid.UUID{targetID}, senderID, title)
	}
	return msg, nil
}

func (s *Service) broadcast(ctx context.Context, msg models.Message, recipients []uuid.UUID) {
	ev, err := models.NewEvent(models.EventNewMessage, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode message event")
		return
	}
	for _, userID := range recipients {
		if err := s.realtime.PublishToUser(ctx, userID, ev); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID.String()).Str("message_id", msg.ID.String()).Msg("message publish failed")
		}
	}
}

// notifyOffline pushes to every candidate other than the sender that has no
// live connection anywhere in the cluster.
func (s *Service) notifyOffline(ctx context.Context, msg models.Message, candidates []uuid.UUID, senderID uuid.UUID, title string) {
	targets := make([]uuid.UUID, 0, len(candidates))
	for _, id := range candidates {
		if id != senderID {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 || s.notifier == nil {
		return
	}
	online, err := s.realtime.OnlineAmong(ctx, targets)
	if err != nil {
		s.logger.Warn().Err(err).Msg("presence lookup failed, skipping push")
		return
	}
	for _, id := range targets {
		if online[id] {
			continue
		}
		s.notifier.NotifyUser(ctx, id, notify.Notification{
			Title: title,
			Body:  msg.Content,
			Data:  map[string]string{"room_id": msg.RoomID.String(), "message_id": msg.ID.String()},
		})
	}
}

// History returns one page of a room's messages, oldest first.
func (s *Service) History(ctx context.Context, userID, roomID uuid.UUID, limit, offset int) ([]models.Message, error) {
	if _, err := s.rooms.RequireMember(ctx, userID, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	msgs, err := s.messages.ListRoomMessages(ctx, roomID, limit, offset)
	if err != nil {
		return nil, apperror.Transient("load messages", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// JoinLive starts live delivery of roomID's events to userID on this instance.
func (s *Service) JoinLive(ctx context.Context, userID, roomID uuid.UUID) error {
	if _, err := s.rooms.RequireMember(ctx, userID, roomID); err != nil {
		return err
	}
	if err := s.realtime.JoinRoom(ctx, userID, roomID); err != nil {
		return err
	}
	s.announce(ctx, models.EventUserJoinedRoom, userID, roomID)
	return nil
}

func (s *Service) LeaveLive(ctx context.Context, userID, roomID uuid.UUID) error {
	if err := s.realtime.LeaveRoom(ctx, userID, roomID); err != nil {
		return err
	}
	s.announce(ctx, models.EventUserLeftRoom, userID, roomID)
	return nil
}

func (s *Service) announce(ctx context.Context, eventType string, userID, roomID uuid.UUID) {
	ev, err := models.NewEvent(eventType, models.RoomPresenceData{RoomID: roomID, UserID: userID})
	if err != nil {
		return
	}
	if err := s.realtime.PublishToRoom(ctx, roomID, ev, fanout.Exclude(userID)); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID.String()).Str("event", eventType).Msg("room announcement failed")
	}
}

// Typing relays a typing indicator to a room or to a single recipient.
func (s *Service) Typing(ctx context.Context, userID uuid.UUID, roomID, recipientID *uuid.UUID, isTyping bool) error {
	data := models.TypingData{UserID: userID, RoomID: roomID, IsTyping: isTyping}
	ev, err := models.NewEvent(models.EventTypingIndicator, data)
	if err != nil {
		return apperror.Invalid("bad typing payload")
	}
	switch {
	case roomID != nil:
		if _, err := s.rooms.RequireMember(ctx, userID, *roomID); err != nil {
			return err
		}
		return s.realtime.PublishToRoom(ctx, *roomID, ev, fanout.Exclude(userID))
	case recipientID != nil:
		return s.realtime.PublishToUser(ctx, *recipientID, ev)
	default:
		return apperror.Invalid("room_id or recipient_id is required")
	}
}

func (s *Service) MarkDelivered(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (status.Result, error) {
	return s.status.MarkDelivered(ctx, messageIDs, userID)
}

func (s *Service) MarkSeen(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (status.Result, error) {
	return s.status.MarkSeen(ctx, messageIDs, userID)
}

func validateContent(content, messageType string) (string, string, error) {
	if strings.TrimSpace(content) == "" {
		return "", "", apperror.Invalid("content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxMessageContent {
		return "", "", apperror.Invalid("content exceeds 2000 characters")
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	return content, messageType, nil
}
