package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Send on a closed connection.
var ErrClosed = errors.New("connection closed")

// Conn is a live client transport.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// FailureFunc is called after a failed delivery removed conn from the registry.
type FailureFunc func(userID uuid.UUID, conn Conn, err error)

// Registry maps a user to the connection it holds on this instance.
type Registry struct {
	mu        sync.RWMutex
	conns     map[uuid.UUID]Conn
	timeout   time.Duration
	onFailure FailureFunc
}

// New creates an empty registry. Deliveries are bounded by timeout.
func New(timeout time.Duration) *Registry {
	return &Registry{
		conns:   make(map[uuid.UUID]Conn),
		timeout: timeout,
	}
}

// OnFailure installs the hook run after a failed delivery.
func (r *Registry) OnFailure(fn FailureFunc) {
	r.mu.Lock()
	r.onFailure = fn
	r.mu.Unlock()
}

// Register stores conn for userID and returns the connection it replaced, if any.
func (r *Registry) Register(userID uuid.UUID, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	if prev != nil && prev.ID() == conn.ID() {
		return nil
	}
	return prev
}

// Unregister removes userID only while conn is still the registered connection.
func (r *Registry) Unregister(userID uuid.UUID, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[userID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) Lookup(userID uuid.UUID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserIDs returns a snapshot of the connected users.
func (r *Registry) UserIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Deliver writes payload to the user's connection. It returns false when the
// user has no connection here or the write failed; a failed connection is
// unregistered and reported to the failure hook.
func (r *Registry) Deliver(ctx context.Context, userID uuid.UUID, payload []byte) bool {
	conn, ok := r.Lookup(userID)
	if !ok {
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err := conn.Send(sendCtx, payload)
	cancel()
	if err == nil {
		return true
	}

	r.Unregister(userID, conn)
	r.mu.RLock()
	hook := r.onFailure
	r.mu.RUnlock()
	if hook != nil {
		hook(userID, conn, err)
	}
	return false
}
