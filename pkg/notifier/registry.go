package notifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/queuekit/pkg/logger"
)

// Registry is an in-memory connection registry implementing Deliverer.
// Transport layers (SSE handlers, WebSocket upgraders) call Connect and read
// from the returned channel; the router pushes notifications in. Sends never
// block: a client that stops reading loses messages, not the queue.
type Registry struct {
	mu         sync.RWMutex
	byUser     map[string]map[string]*Connection
	all        map[string]*Connection
	bufferSize int
	closed     bool
	logger     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConnectionBuffer sets the per-connection channel buffer.
func WithConnectionBuffer(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithRegistryLogger sets the logger for the Registry.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty connection registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byUser:     make(map[string]map[string]*Connection),
		all:        make(map[string]*Connection),
		bufferSize: 16,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Connect registers a client connection for the user. The connection is
// removed automatically when ctx is cancelled.
func (r *Registry) Connect(ctx context.Context, userID string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	conn := &Connection{
		id:       uuid.NewString(),
		userID:   userID,
		ch:       make(chan Notification, r.bufferSize),
		registry: r,
	}

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Connection)
	}
	r.byUser[userID][conn.id] = conn
	r.all[conn.id] = conn

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return conn, nil
}

// Deliver pushes the notification to all of the user's connections.
func (r *Registry) Deliver(ctx context.Context, userID string, n Notification) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRegistryClosed
	}

	for _, conn := range r.byUser[userID] {
		r.send(conn, n)
	}
	return nil
}

// Broadcast pushes the notification to every connection.
func (r *Registry) Broadcast(ctx context.Context, n Notification) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRegistryClosed
	}

	for _, conn := range r.all {
		r.send(conn, n)
	}
	return nil
}

// send is called under at least a read lock, so the channel cannot be closed
// concurrently (Close takes the write lock first).
func (r *Registry) send(conn *Connection, n Notification) {
	select {
	case conn.ch <- n:
	default:
		r.logger.Warn("dropping notification for slow connection",
			slog.String("connection_id", conn.id),
			logger.UserID(conn.userID),
			slog.String("event", n.Event))
	}
}

// ConnectionCount returns the number of live connections, total or per user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if userID == "" {
		return len(r.all)
	}
	return len(r.byUser[userID])
}

// Close disconnects every client and rejects future connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := make([]*Connection, 0, len(r.all))
	for _, conn := range r.all {
		conns = append(conns, conn)
	}
	r.byUser = make(map[string]map[string]*Connection)
	r.all = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.closeOnce.Do(func() { close(conn.ch) })
	}
	return nil
}

func (r *Registry) remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if conns, ok := r.byUser[conn.userID]; ok {
		delete(conns, conn.id)
		if len(conns) == 0 {
			delete(r.byUser, conn.userID)
		}
	}
	delete(r.all, conn.id)
}

// Connection is a single client's notification stream.
type Connection struct {
	id        string
	userID    string
	ch        chan Notification
	registry  *Registry
	closeOnce sync.Once
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// UserID returns the owner of the connection.
func (c *Connection) UserID() string { return c.userID }

// Notifications returns the stream to read from. The channel is closed when
// the connection or the registry closes.
func (c *Connection) Notifications() <-chan Notification { return c.ch }

// Close removes the connection from the registry and closes the stream.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		// Removing under the write lock first guarantees no sender holds a
		// reference when the channel closes.
		c.registry.remove(c)
		close(c.ch)
	})
}
