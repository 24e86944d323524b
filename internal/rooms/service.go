package rooms

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

const maxRoomName = 100

// Service resolves private rooms and manages group rooms.
type Service struct {
	rooms  repositories.RoomRepository
	users  repositories.UserRepository
	logger zerolog.Logger
}

func NewService(rooms repositories.RoomRepository, users repositories.UserRepository, logger zerolog.Logger) *Service {
	return &Service{rooms: rooms, users: users, logger: logger}
}

// Resolve returns the private room shared by a and b, creating it on first
// use. Concurrent callers for the same pair always get the same room.
func (s *Service) Resolve(ctx context.Context, a, b uuid.UUID) (models.Room, error) {
	exists, err := s.users.ActiveUserExists(ctx, b)
	if err != nil {
		return models.Room{}, apperror.Transient("look up user", err)
	}
	if !exists {
		return models.Room{}, apperror.NotFound("user not found")
	}

	key := models.PairKey(a, b)
	room, err := s.rooms.FindPrivateRoom(ctx, key)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repositories.ErrRoomNotFound) {
		return models.Room{}, apperror.Transient("look up private room", err)
	}

	members := []uuid.UUID{a}
	if a != b {
		members = append(members, b)
	}
	room, created, err := s.rooms.CreatePrivateRoom(ctx, key, a, members)
	if err != nil {
		return models.Room{}, apperror.Transient("create private room", err)
	}
	if created {
		s.logger.Info().Str("room_id", room.ID.String()).Int("members", len(members)).Msg("private room created")
	}
	return room, nil
}

// CreateGroup creates a named group room owned by creator.
func (s *Service) CreateGroup(ctx context.Context, creator uuid.UUID, name string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomName {
		return models.Room{}, apperror.Invalid("room name must be 1-100 characters")
	}
	room, err := s.rooms.CreateGroupRoom(ctx, creator, name)
	switch {
	case errors.Is(err, repositories.ErrDuplicateRoomName):
		return models.Room{}, apperror.Conflict("room name already taken")
	case err != nil:
		return models.Room{}, apperror.Transient("create room", err)
	}
	return room, nil
}

// JoinGroup adds user to a group room's persistent membership.
func (s *Service) JoinGroup(ctx context.Context, user, roomID uuid.UUID) (models.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return models.Room{}, err
	}
	if room.IsPrivate() {
		return models.Room{}, apperror.Unauthorized("private rooms cannot be joined")
	}
	err = s.rooms.AddMember(ctx, roomID, user)
	switch {
	case errors.Is(err, repositories.ErrDuplicateMembership):
		return models.Room{}, apperror.Conflict("already a member")
	case err != nil:
		return models.Room{}, apperror.Transient("add member", err)
	}
	return room, nil
}

func (s *Service) GetRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	switch {
	case errors.Is(err, repositories.ErrRoomNotFound):
		return models.Room{}, apperror.NotFound("room not found")
	case err != nil:
		return models.Room{}, apperror.Transient("load room", err)
	}
	return room, nil
}

// RequireMember loads the room and fails with Unauthorized unless user belongs to it.
func (s *Service) RequireMember(ctx context.Context, user, roomID uuid.UUID) (models.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return models.Room{}, err
	}
	member, err := s.rooms.IsMember(ctx, roomID, user)
	if err != nil {
		return models.Room{}, apperror.Transient("check membership", err)
	}
	if !member {
		return models.Room{}, apperror.Unauthorized("not a member of this room")
	}
	return room, nil
}

func (s *Service) ListUserRooms(ctx context.Context, user uuid.UUID) ([]models.Room, error) {
	rooms, err := s.rooms.ListRoomsForUser(ctx, user)
	if err != nil {
		return nil, apperror.Transient("list rooms", err)
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	return rooms, nil
}

func (s *Service) MemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.rooms.ListMemberIDs(ctx, roomID)
	if err != nil {
		return nil, apperror.Transient("list members", err)
	}
	return ids, nil
}
