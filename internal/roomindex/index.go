package roomindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Subscriber toggles the broker subscription of a room channel.
type Subscriber interface {
	SubscribeRoom(ctx context.Context, roomID uuid.UUID) error
	UnsubscribeRoom(ctx context.Context, roomID uuid.UUID) error
}

// Index tracks which locally connected users are live in which rooms.
// A room is subscribed on the broker exactly while it has a local member.
type Index struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[uuid.UUID]struct{}
	users map[uuid.UUID]map[uuid.UUID]struct{}

	// subMu orders subscription changes; mu is never held across broker I/O.
	subMu      sync.Mutex
	subscribed map[uuid.UUID]bool
	sub        Subscriber
}

func New(sub Subscriber) *Index {
	return &Index{
		rooms:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		users:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		subscribed: make(map[uuid.UUID]bool),
		sub:        sub,
	}
}

// Join adds userID to roomID. The first local member subscribes the room;
// if that fails the membership is rolled back.
func (x *Index) Join(ctx context.Context, userID, roomID uuid.UUID) error {
	x.subMu.Lock()
	defer x.subMu.Unlock()

	x.mu.Lock()
	added := x.add(userID, roomID)
	x.mu.Unlock()

	if x.subscribed[roomID] {
		return nil
	}
	if err := x.sub.SubscribeRoom(ctx, roomID); err != nil {
		if added {
			x.mu.Lock()
			x.remove(userID, roomID)
			x.mu.Unlock()
		}
		return fmt.Errorf("subscribe room %s: %w", roomID, err)
	}
	x.subscribed[roomID] = true
	return nil
}

// Leave removes userID from roomID and unsubscribes the room once empty.
func (x *Index) Leave(ctx context.Context, userID, roomID uuid.UUID) error {
	x.subMu.Lock()
	defer x.subMu.Unlock()

	x.mu.Lock()
	x.remove(userID, roomID)
	empty := len(x.rooms[roomID]) == 0
	x.mu.Unlock()

	if !empty {
		return nil
	}
	return x.release(ctx, roomID)
}

// OnDisconnect removes userID from every room it joined and returns them.
func (x *Index) OnDisconnect(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	x.subMu.Lock()
	defer x.subMu.Unlock()

	x.mu.Lock()
	joined := make([]uuid.UUID, 0, len(x.users[userID]))
	for roomID := range x.users[userID] {
		joined = append(joined, roomID)
	}
	var emptied []uuid.UUID
	for _, roomID := range joined {
		x.remove(userID, roomID)
		if len(x.rooms[roomID]) == 0 {
			emptied = append(emptied, roomID)
		}
	}
	x.mu.Unlock()

	var firstErr error
	for _, roomID := range emptied {
		if err := x.release(ctx, roomID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return joined, firstErr
}

// Members returns a snapshot of the local members of roomID.
func (x *Index) Members(roomID uuid.UUID) []uuid.UUID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(x.rooms[roomID]))
	for userID := range x.rooms[roomID] {
		out = append(out, userID)
	}
	return out
}

// Rooms returns a snapshot of the rooms userID is live in.
func (x *Index) Rooms(userID uuid.UUID) []uuid.UUID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(x.users[userID]))
	for roomID := range x.users[userID] {
		out = append(out, roomID)
	}
	return out
}

func (x *Index) RoomCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.rooms)
}

func (x *Index) IsSubscribed(roomID uuid.UUID) bool {
	x.subMu.Lock()
	defer x.subMu.Unlock()
	return x.subscribed[roomID]
}

// release forgets the subscription even when the broker call fails.
func (x *Index) release(ctx context.Context, roomID uuid.UUID) error {
	if !x.subscribed[roomID] {
		return nil
	}
	delete(x.subscribed, roomID)
	if err := x.sub.UnsubscribeRoom(ctx, roomID); err != nil {
		return fmt.Errorf("unsubscribe room %s: %w", roomID, err)
	}
	return nil
}

func (x *Index) add(userID, roomID uuid.UUID) bool {
	members, ok := x.rooms[roomID]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		x.rooms[roomID] = members
	}
	if _, exists := members[userID]; exists {
		return false
	}
	members[userID] = struct{}{}

	joined, ok := x.users[userID]
	if !ok {
		joined = make(map[uuid.UUID]struct{})
		x.users[userID] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

func (x *Index) remove(userID, roomID uuid.UUID) {
	if members, ok := x.rooms[roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(x.rooms, roomID)
		}
	}
	if joined, ok := x.users[userID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(x.users, userID)
		}
	}
}
