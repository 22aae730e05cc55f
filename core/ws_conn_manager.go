package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/putto11262002/studyroom/pkg/proto"
)

// NameResolver turns a user id into something printable.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) string
}

type idNames struct{}

func (idNames) DisplayName(_ context.Context, userID string) string { return userID }

type ConnHook func(ctx context.Context, c *Connection)

// ConnManager validates handshakes, registers and tears down connections and
// keeps room membership in sync. It is the only writer of the Registry.
type ConnManager struct {
	registry *Registry
	tokens   TokenValidator
	typing   *TypingSet
	names    NameResolver
	logger   *slog.Logger

	maxConns   int
	sendBuffer int

	mu             sync.RWMutex
	onRegistered   []ConnHook
	onUnregistered []ConnHook
	onRoomOpened   []func(roomID string)
	onRoomClosed   []func(roomID string)
}

type ManagerOption func(*ConnManager)

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

// WithMaxConnections caps the number of live connections. Zero means no cap.
func WithMaxConnections(n int) ManagerOption {
	return func(m *ConnManager) {
		m.maxConns = n
	}
}

// WithSendBuffer sets the number of envelopes queued per connection before
// the connection is considered too slow and dropped.
func WithSendBuffer(n int) ManagerOption {
	return func(m *ConnManager) {
		m.sendBuffer = n
	}
}

func WithNameResolver(r NameResolver) ManagerOption {
	return func(m *ConnManager) {
		m.names = r
	}
}

func NewConnManager(registry *Registry, tokens TokenValidator, typing *TypingSet, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		registry:   registry,
		tokens:     tokens,
		typing:     typing,
		names:      idNames{},
		logger:     slog.Default(),
		sendBuffer: defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}

	registry.onOverflow = func(c *Connection) {
		go m.Unregister(context.Background(), c)
	}
	return m
}

func (m *ConnManager) Registry() *Registry {
	return m.registry
}

// OnRegistered adds a hook that runs after a connection joined its room.
func (m *ConnManager) OnRegistered(f ConnHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRegistered = append(m.onRegistered, f)
}

// OnUnregistered adds a hook that runs after a connection left its room.
func (m *ConnManager) OnUnregistered(f ConnHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnregistered = append(m.onUnregistered, f)
}

// OnRoomOpened adds a hook that runs when a room gets its first connection.
func (m *ConnManager) OnRoomOpened(f func(roomID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRoomOpened = append(m.onRoomOpened, f)
}

// OnRoomClosed adds a hook that runs when a room loses its last connection.
func (m *ConnManager) OnRoomClosed(f func(roomID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRoomClosed = append(m.onRoomClosed, f)
}

// Register validates the handshake parameters and adds a connection for
// userID to roomID. Existing members of the room are told that the user
// joined; the joining connection is not.
func (m *ConnManager) Register(ctx context.Context, userID, roomID, authToken string) (*Connection, error) {
	userID = strings.TrimSpace(userID)
	roomID = strings.TrimSpace(roomID)
	authToken = strings.TrimSpace(authToken)
	if userID == "" || roomID == "" || authToken == "" {
		return nil, NewInsensitiveError(proto.ErrAuth, "userId, roomId and authToken are required")
	}

	identity, err := m.tokens.ValidateToken(ctx, authToken)
	if err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}
	if identity.UserID != userID {
		return nil, NewInsensitiveError(proto.ErrAuth, "token was not issued to this user")
	}

	conn := newConnection(userID, roomID, m.sendBuffer, m.logger)
	change, err := m.registry.add(conn, m.maxConns)
	if err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}
	conn.logger.Info("connection registered")

	if change.firstInRoom {
		name := m.names.DisplayName(ctx, userID)
		m.registry.Broadcast(roomID, proto.SystemEvent{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			UserID:    userID,
			Content:   name + " joined the room",
			Timestamp: now(),
		}, ExceptConn(conn.ID))
	}

	m.mu.RLock()
	roomHooks := m.onRoomOpened
	connHooks := m.onRegistered
	m.mu.RUnlock()
	if change.roomOpened {
		for _, f := range roomHooks {
			f(roomID)
		}
	}
	for _, f := range connHooks {
		f(ctx, conn)
	}
	return conn, nil
}

// Unregister removes conn from the registry. It is safe to call more than
// once; only the first call has any effect. Membership is removed before the
// leave message is broadcast so the leaving connection never receives it.
func (m *ConnManager) Unregister(ctx context.Context, conn *Connection) {
	if conn == nil {
		return
	}
	change, removed := m.registry.remove(conn)
	conn.close()
	if !removed {
		return
	}
	conn.logger.Info("connection unregistered")

	if m.typing.Clear(conn.UserID, conn.RoomID) {
		m.registry.Broadcast(conn.RoomID, proto.TypingEvent{
			RoomID:    conn.RoomID,
			UserID:    conn.UserID,
			Typing:    false,
			Timestamp: now(),
		}, nil)
	}

	if change.lastInRoom {
		name := m.names.DisplayName(ctx, conn.UserID)
		m.registry.Broadcast(conn.RoomID, proto.SystemEvent{
			ID:        uuid.NewString(),
			RoomID:    conn.RoomID,
			UserID:    conn.UserID,
			Content:   name + " left the room",
			Timestamp: now(),
		}, nil)
	}

	m.mu.RLock()
	connHooks := m.onUnregistered
	roomHooks := m.onRoomClosed
	m.mu.RUnlock()
	for _, f := range connHooks {
		f(ctx, conn)
	}
	if change.roomClosed {
		for _, f := range roomHooks {
			f(conn.RoomID)
		}
	}
}

// LastInRoom reports whether userID has no connection left in roomID.
func (m *ConnManager) LastInRoom(userID, roomID string) bool {
	return !m.registry.IsMember(userID, roomID)
}

// Close unregisters every connection.
func (m *ConnManager) Close(ctx context.Context) {
	m.registry.mu.RLock()
	conns := make([]*Connection, 0, len(m.registry.conns))
	for _, c := range m.registry.conns {
		conns = append(conns, c)
	}
	m.registry.mu.RUnlock()

	for _, c := range conns {
		m.Unregister(ctx, c)
	}
}
