package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/fanout"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/registry"
	"chat-realtime/internal/roomindex"
)

type testConn struct {
	id     string
	mu     sync.Mutex
	events []models.Event
	fail   bool
	closed bool
}

func newTestConn() *testConn { return &testConn{id: uuid.NewString()} }

func (c *testConn) ID() string { return c.id }

func (c *testConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return registry.ErrClosed
	}
	var ev models.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *testConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *testConn) received() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type env struct {
	mr      *miniredis.Miniredis
	manager *Manager
	index   *roomindex.Index
	reg     *registry.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithPresence(t, func(p Presence) Presence { return p })
}

func newEnvWithPresence(t *testing.T, wrap func(Presence) Presence) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := registry.New(time.Second)
	router := fanout.NewRouter(rdb, fanout.Config{InstanceID: "node-1", MinBackoff: 10 * time.Millisecond}, reg, zerolog.Nop())
	index := roomindex.New(router)
	m := NewManager(reg, index, wrap(presence.NewDirectory(rdb, "presence:online")), router, zerolog.Nop())

	m.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	require.Eventually(t, m.Healthy, time.Second, 5*time.Millisecond)
	return &env{mr: mr, manager: m, index: index, reg: reg}
}

func (e *env) subscribers(channel string) int {
	return e.mr.PubSubNumSub(channel)[channel]
}

func (e *env) waitSubscribers(t *testing.T, channel string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.subscribers(channel) == n }, time.Second, 5*time.Millisecond)
}

func event(t *testing.T, eventType string) models.Event {
	ev, err := models.NewEvent(eventType, nil)
	require.NoError(t, err)
	return ev
}

func TestConnectMarksOnlineAndRoutesUserEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user, conn := uuid.New(), newTestConn()

	require.NoError(t, e.manager.Connect(ctx, user, conn))
	online, err := e.manager.IsOnline(ctx, user)
	require.NoError(t, err)
	require.True(t, online)
	e.waitSubscribers(t, fanout.UserChannel(user), 1)

	require.NoError(t, e.manager.PublishToUser(ctx, user, event(t, models.EventPong)))
	require.Eventually(t, func() bool { return len(conn.received()) == 1 }, time.Second, 5*time.Millisecond)

	e.manager.Disconnect(ctx, user, conn)
	online, err = e.manager.IsOnline(ctx, user)
	require.NoError(t, err)
	require.False(t, online)
	e.waitSubscribers(t, fanout.UserChannel(user), 0)
}

func TestSupersededConnectionIsClosedAndIgnored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user := uuid.New()
	first, second := newTestConn(), newTestConn()

	require.NoError(t, e.manager.Connect(ctx, user, first))
	require.NoError(t, e.manager.Connect(ctx, user, second))
	require.True(t, first.isClosed())

	// the stale handle's disconnect must not remove the live one
	e.manager.Disconnect(ctx, user, first)
	current, ok := e.reg.Lookup(user)
	require.True(t, ok)
	require.Equal(t, second.ID(), current.ID())
	online, err := e.manager.IsOnline(ctx, user)
	require.NoError(t, err)
	require.True(t, online)

	require.NoError(t, e.manager.PublishToUser(ctx, user, event(t, models.EventPong)))
	require.Eventually(t, func() bool { return len(second.received()) == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, first.received())

	e.manager.Disconnect(ctx, user, second)
	online, err = e.manager.IsOnline(ctx, user)
	require.NoError(t, err)
	require.False(t, online)
}

func TestPublishToRoomReachesOnlyJoinedMembers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	room := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	connA, connB, connC := newTestConn(), newTestConn(), newTestConn()

	require.NoError(t, e.manager.Connect(ctx, a, connA))
	require.NoError(t, e.manager.Connect(ctx, b, connB))
	require.NoError(t, e.manager.Connect(ctx, c, connC))
	require.NoError(t, e.manager.JoinRoom(ctx, a, room))
	require.NoError(t, e.manager.JoinRoom(ctx, b, room))
	e.waitSubscribers(t, fanout.RoomChannel(room), 1)

	require.NoError(t, e.manager.PublishToRoom(ctx, room, event(t, models.EventNewMessage)))

	require.Eventually(t, func() bool {
		return len(connA.received()) == 1 && len(connB.received()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, connC.received())
}

func TestDisconnectClearsRoomsAndRejoinRestoresDelivery(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	room, user := uuid.New(), uuid.New()
	conn := newTestConn()

	require.NoError(t, e.manager.Connect(ctx, user, conn))
	require.NoError(t, e.manager.JoinRoom(ctx, user, room))
	e.waitSubscribers(t, fanout.RoomChannel(room), 1)

	e.manager.Disconnect(ctx, user, conn)
	require.Empty(t, e.index.Members(room))
	require.False(t, e.index.IsSubscribed(room))
	e.waitSubscribers(t, fanout.RoomChannel(room), 0)

	again := newTestConn()
	require.NoError(t, e.manager.Connect(ctx, user, again))
	require.NoError(t, e.manager.JoinRoom(ctx, user, room))
	e.waitSubscribers(t, fanout.RoomChannel(room), 1)

	require.NoError(t, e.manager.PublishToRoom(ctx, room, event(t, models.EventNewMessage)))
	require.Eventually(t, func() bool { return len(again.received()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDeliveryFailureDropsConnection(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	room, user := uuid.New(), uuid.New()
	conn := newTestConn()

	require.NoError(t, e.manager.Connect(ctx, user, conn))
	require.NoError(t, e.manager.JoinRoom(ctx, user, room))
	e.waitSubscribers(t, fanout.RoomChannel(room), 1)

	conn.mu.Lock()
	conn.fail = true
	conn.mu.Unlock()
	require.NoError(t, e.manager.PublishToRoom(ctx, room, event(t, models.EventNewMessage)))

	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(e.index.Members(room)) == 0 }, time.Second, 5*time.Millisecond)
	_, ok := e.reg.Lookup(user)
	require.False(t, ok)
	e.waitSubscribers(t, fanout.RoomChannel(room), 0)

	// the transport owner still reports its disconnect
	e.manager.Disconnect(ctx, user, conn)
	online, err := e.manager.IsOnline(ctx, user)
	require.NoError(t, err)
	require.False(t, online)
}

func TestCloseStopsListener(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, e.manager.Close(ctx))
	require.False(t, e.manager.Healthy())
	require.NoError(t, e.manager.Close(ctx))
}

func TestCloseReleasesPresenceOfLocalConnections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	stale, live, other := newTestConn(), newTestConn(), newTestConn()

	require.NoError(t, e.manager.Connect(ctx, a, stale))
	require.NoError(t, e.manager.Connect(ctx, a, live))
	require.NoError(t, e.manager.Connect(ctx, b, other))

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, e.manager.Close(closeCtx))

	for _, user := range []uuid.UUID{a, b} {
		online, err := e.manager.IsOnline(ctx, user)
		require.NoError(t, err)
		require.False(t, online)
	}
	require.True(t, live.isClosed())
	require.True(t, other.isClosed())
	require.Zero(t, e.manager.LocalConnections())

	// read loops report late; the counts must not go below zero
	e.manager.Disconnect(ctx, a, stale)
	e.manager.Disconnect(ctx, a, live)
	e.manager.Disconnect(ctx, b, other)
	require.False(t, e.mr.Exists("presence:online"))
}

type gatedPresence struct {
	Presence
	gated   uuid.UUID
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPresence) Connect(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == p.gated {
		close(p.entered)
		<-p.release
	}
	return p.Presence.Connect(ctx, userID)
}

func TestSlowPresenceDoesNotBlockOtherUsers(t *testing.T) {
	slow, fast := uuid.New(), uuid.New()
	gate := &gatedPresence{gated: slow, entered: make(chan struct{}), release: make(chan struct{})}
	e := newEnvWithPresence(t, func(p Presence) Presence {
		gate.Presence = p
		return gate
	})
	ctx := context.Background()

	fastConn := newTestConn()
	require.NoError(t, e.manager.Connect(ctx, fast, fastConn))

	connected := make(chan error, 1)
	go func() { connected <- e.manager.Connect(ctx, slow, newTestConn()) }()
	<-gate.entered

	released := make(chan struct{})
	go func() {
		e.manager.Disconnect(ctx, fast, fastConn)
		_ = e.manager.Connect(ctx, fast, newTestConn())
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("lifecycle of one user waited on another user's presence update")
	}

	close(gate.release)
	require.NoError(t, <-connected)
	online, err := e.manager.IsOnline(ctx, slow)
	require.NoError(t, err)
	require.True(t, online)
}

func TestUserLocksSerializeOneUser(t *testing.T) {
	locks := newUserLocks()
	user := uuid.New()

	unlock := locks.lock(user)
	acquired := make(chan struct{})
	go func() {
		release := locks.lock(user)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the first still held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	otherUnlock := locks.lock(uuid.New())
	otherUnlock()

	unlock()
	<-acquired
	require.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, 5*time.Millisecond)
}
