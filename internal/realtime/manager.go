package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/fanout"
	"chat-realtime/internal/models"
	"chat-realtime/internal/registry"
	"chat-realtime/internal/roomindex"
)

// Presence is the cluster-wide online directory.
type Presence interface {
	Connect(ctx context.Context, userID uuid.UUID) (int64, error)
	Disconnect(ctx context.Context, userID uuid.UUID) (int64, error)
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	OnlineAmong(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

const cleanupTimeout = 5 * time.Second

// Manager owns this instance's connection registry, local room index and
// fanout listener, and keeps them consistent across connect and disconnect.
type Manager struct {
	registry *registry.Registry
	index    *roomindex.Index
	presence Presence
	router   *fanout.Router
	logger   zerolog.Logger

	// locks order register, unregister and cleanup for one user.
	locks *userLocks

	// counted holds every connection whose presence increment is not yet released.
	countedMu sync.Mutex
	counted   map[registry.Conn]uuid.UUID

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(reg *registry.Registry, index *roomindex.Index, presence Presence, router *fanout.Router, logger zerolog.Logger) *Manager {
	m := &Manager{
		registry: reg,
		index:    index,
		presence: presence,
		router:   router,
		logger:   logger,
		locks:    newUserLocks(),
		counted:  make(map[registry.Conn]uuid.UUID),
	}
	router.SetMembers(index)
	reg.OnFailure(m.handleDeliveryFailure)
	return m
}

// Start launches the fanout listener. It is a no-op when already started.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go func() {
		defer close(done)
		if err := m.router.Run(runCtx); err != nil {
			m.logger.Error().Err(err).Msg("fanout listener stopped")
		}
	}()
}

// Close releases every local connection, then stops the listener and waits
// for it to exit or for ctx to end. Open sockets do not survive the process,
// so their presence counts are released here.
func (m *Manager) Close(ctx context.Context) error {
	m.drain(ctx)

	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) drain(ctx context.Context) {
	m.countedMu.Lock()
	conns := make(map[registry.Conn]uuid.UUID, len(m.counted))
	for conn, userID := range m.counted {
		conns[conn] = userID
	}
	m.countedMu.Unlock()
	if len(conns) == 0 {
		return
	}

	for conn, userID := range conns {
		_ = conn.Close()
		m.Disconnect(ctx, userID, conn)
	}
	m.logger.Info().Int("connections", len(conns)).Msg("local connections released")
}

// Connect registers conn as userID's connection on this instance. A
// connection it supersedes is closed.
func (m *Manager) Connect(ctx context.Context, userID uuid.UUID, conn registry.Conn) error {
	unlock := m.locks.lock(userID)
	if prev := m.registry.Register(userID, conn); prev != nil {
		m.logger.Info().Str("user_id", userID.String()).Str("conn_id", prev.ID()).Msg("closing superseded connection")
		_ = prev.Close()
	}
	if err := m.router.SubscribeUser(ctx, userID); err != nil {
		m.registry.Unregister(userID, conn)
		unlock()
		return err
	}
	unlock()

	if _, err := m.presence.Connect(ctx, userID); err != nil {
		unlock := m.locks.lock(userID)
		m.registry.Unregister(userID, conn)
		m.cleanupLocked(ctx, userID)
		unlock()
		return apperror.Transient("mark user online", err)
	}

	m.countedMu.Lock()
	m.counted[conn] = userID
	m.countedMu.Unlock()
	return nil
}

// Disconnect releases conn. Only the first call for a connection has an
// effect, so the transport owner and Close may both report it.
func (m *Manager) Disconnect(ctx context.Context, userID uuid.UUID, conn registry.Conn) {
	m.countedMu.Lock()
	_, ok := m.counted[conn]
	delete(m.counted, conn)
	m.countedMu.Unlock()
	if !ok {
		return
	}

	unlock := m.locks.lock(userID)
	m.registry.Unregister(userID, conn)
	m.cleanupLocked(ctx, userID)
	unlock()

	if _, err := m.presence.Disconnect(ctx, userID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("presence decrement failed")
	}
}

// cleanupLocked drops the user's live rooms and channel once no local
// connection remains.
func (m *Manager) cleanupLocked(ctx context.Context, userID uuid.UUID) {
	if _, ok := m.registry.Lookup(userID); ok {
		return
	}
	if _, err := m.index.OnDisconnect(ctx, userID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("room unsubscribe failed")
	}
	if err := m.router.UnsubscribeUser(ctx, userID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("user unsubscribe failed")
	}
}

// handleDeliveryFailure runs on the listener goroutine after the registry
// dropped a connection whose write failed.
func (m *Manager) handleDeliveryFailure(userID uuid.UUID, conn registry.Conn, err error) {
	level := m.logger.Warn()
	if errors.Is(err, registry.ErrClosed) {
		level = m.logger.Debug()
	}
	level.Err(err).Str("user_id", userID.String()).Str("conn_id", conn.ID()).Msg("delivery failed, dropping connection")
	_ = conn.Close()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		unlock := m.locks.lock(userID)
		m.cleanupLocked(ctx, userID)
		unlock()
	}()
}

// JoinRoom makes userID live in roomID on this instance.
func (m *Manager) JoinRoom(ctx context.Context, userID, roomID uuid.UUID) error {
	if err := m.index.Join(ctx, userID, roomID); err != nil {
		return apperror.Transient("join room", err)
	}
	return nil
}

func (m *Manager) LeaveRoom(ctx context.Context, userID, roomID uuid.UUID) error {
	if err := m.index.Leave(ctx, userID, roomID); err != nil {
		return apperror.Transient("leave room", err)
	}
	return nil
}

func (m *Manager) PublishToUser(ctx context.Context, userID uuid.UUID, event models.Event, opts ...fanout.PublishOption) error {
	return m.router.PublishToUser(ctx, userID, event, opts...)
}

func (m *Manager) PublishToRoom(ctx context.Context, roomID uuid.UUID, event models.Event, opts ...fanout.PublishOption) error {
	return m.router.PublishToRoom(ctx, roomID, event, opts...)
}

func (m *Manager) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return m.presence.IsOnline(ctx, userID)
}

func (m *Manager) OnlineAmong(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	return m.presence.OnlineAmong(ctx, userIDs)
}

// LocalConnections is the number of users connected to this instance.
func (m *Manager) LocalConnections() int {
	return m.registry.Count()
}

// Healthy reports whether the fanout listener holds a live subscription.
func (m *Manager) Healthy() bool {
	return m.router.Healthy()
}
