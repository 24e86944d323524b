package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/fanout"
	"chat-realtime/internal/models"
	"chat-realtime/internal/notify"
	"chat-realtime/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) FindPrivateRoom(ctx context.Context, pairKey string) (models.Room, error) {
	args := m.Called(ctx, pairKey)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) CreatePrivateRoom(ctx context.Context, pairKey string, creatorID uuid.UUID, memberIDs []uuid.UUID) (models.Room, bool, error) {
	args := m.Called(ctx, pairKey, creatorID, memberIDs)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Bool(1), args.Error(2)
}

func (m *RoomRepositoryMock) CreateGroupRoom(ctx context.Context, creatorID uuid.UUID, name string) (models.Room, error) {
	args := m.Called(ctx, creatorID, name)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) ListMemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, roomID)
	var ids []uuid.UUID
	if val := args.Get(0); val != nil {
		ids = val.([]uuid.UUID)
	}
	return ids, args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) ActiveUserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit, offset)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) LoadStatusCandidates(ctx context.Context, messageIDs []uuid.UUID, requesterID uuid.UUID) ([]models.StatusCandidate, error) {
	args := m.Called(ctx, messageIDs, requesterID)
	var out []models.StatusCandidate
	if val := args.Get(0); val != nil {
		out = val.([]models.StatusCandidate)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) AdvanceStatus(ctx context.Context, messageIDs []uuid.UUID, target models.MessageStatus) ([]models.StatusChange, error) {
	args := m.Called(ctx, messageIDs, target)
	var out []models.StatusChange
	if val := args.Get(0); val != nil {
		out = val.([]models.StatusChange)
	}
	return out, args.Error(1)
}

type DeviceTokenRepositoryMock struct {
	mock.Mock
}

func (m *DeviceTokenRepositoryMock) UpsertToken(ctx context.Context, userID uuid.UUID, token string, deviceType models.DeviceType) (models.DeviceToken, error) {
	args := m.Called(ctx, userID, token, deviceType)
	var out models.DeviceToken
	if val := args.Get(0); val != nil {
		out = val.(models.DeviceToken)
	}
	return out, args.Error(1)
}

func (m *DeviceTokenRepositoryMock) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.DeviceToken, error) {
	args := m.Called(ctx, userID)
	var out []models.DeviceToken
	if val := args.Get(0); val != nil {
		out = val.([]models.DeviceToken)
	}
	return out, args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) NotifyUser(ctx context.Context, userID uuid.UUID, n notify.Notification) {
	m.Called(ctx, userID, n)
}

// BroadcasterMock stands in for the realtime manager.
type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) PublishToUser(ctx context.Context, userID uuid.UUID, event models.Event, opts ...fanout.PublishOption) error {
	args := m.Called(ctx, userID, event.Type)
	return args.Error(0)
}

func (m *BroadcasterMock) PublishToRoom(ctx context.Context, roomID uuid.UUID, event models.Event, opts ...fanout.PublishOption) error {
	args := m.Called(ctx, roomID, event.Type)
	return args.Error(0)
}

func (m *BroadcasterMock) JoinRoom(ctx context.Context, userID, roomID uuid.UUID) error {
	args := m.Called(ctx, userID, roomID)
	return args.Error(0)
}

func (m *BroadcasterMock) LeaveRoom(ctx context.Context, userID, roomID uuid.UUID) error {
	args := m.Called(ctx, userID, roomID)
	return args.Error(0)
}

func (m *BroadcasterMock) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *BroadcasterMock) OnlineAmong(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	args := m.Called(ctx, userIDs)
	var out map[uuid.UUID]bool
	if val := args.Get(0); val != nil {
		out = val.(map[uuid.UUID]bool)
	}
	return out, args.Error(1)
}

var (
	_ repositories.RoomRepository        = (*RoomRepositoryMock)(nil)
	_ repositories.UserRepository        = (*UserRepositoryMock)(nil)
	_ repositories.MessageRepository     = (*MessageRepositoryMock)(nil)
	_ repositories.DeviceTokenRepository = (*DeviceTokenRepositoryMock)(nil)
	_ notify.Notifier                    = (*NotifierMock)(nil)
)
