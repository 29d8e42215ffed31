package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
)

// Sender is the transport-side outbound handle for one connection. Send must
// never block; transports queue with a bounded buffer and shed load there.
type Sender interface {
	Send(event string, payload any)
}

// Connection is an ownership-free handle for one live socket.
type Connection struct {
	ID        uuid.UUID
	Kind      domain.PartyKind
	CreatedAt time.Time
}

type entry struct {
	conn   Connection
	sender Sender
}

// Registry tracks live connections independent of any route concept. Route
// cleanup on unregister happens through hooks so the registry never reaches
// into subscription state.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]entry
	hooks   []func(uuid.UUID)
	clock   domain.Clock
	logger  *zap.Logger
}

// New constructs an empty registry.
func New(clock domain.Clock, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{entries: make(map[uuid.UUID]entry), clock: clock, logger: logger}
}

// OnUnregister adds a hook invoked after a connection is removed. Hooks must
// be installed before the registry starts accepting connections.
func (r *Registry) OnUnregister(fn func(uuid.UUID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Register records a new live connection and returns its handle.
func (r *Registry) Register(kind domain.PartyKind, sender Sender) Connection {
	conn := Connection{ID: uuid.New(), Kind: kind, CreatedAt: r.clock.Now()}
	r.mu.Lock()
	r.entries[conn.ID] = entry{conn: conn, sender: sender}
	r.mu.Unlock()
	r.logger.Debug("connection registered",
		zap.String("conn_id", conn.ID.String()),
		zap.String("kind", string(kind)))
	return conn
}

// Unregister removes the connection and fires the unregister hooks. Removing
// an unknown id is a no-op.
func (r *Registry) Unregister(connID uuid.UUID) {
	r.mu.Lock()
	_, ok := r.entries[connID]
	delete(r.entries, connID)
	hooks := r.hooks
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range hooks {
		fn(connID)
	}
	r.logger.Debug("connection unregistered", zap.String("conn_id", connID.String()))
}

// IsLive reports whether the connection is still registered.
func (r *Registry) IsLive(connID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[connID]
	return ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Deliver satisfies domain.Sink by handing the event to the connection's
// sender. Events for unknown connections are dropped.
func (r *Registry) Deliver(connID uuid.UUID, event string, payload any) {
	r.mu.RLock()
	e, ok := r.entries[connID]
	r.mu.RUnlock()
	if !ok || e.sender == nil {
		return
	}
	e.sender.Send(event, payload)
}
