package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/studyroom/pkg/proto"
)

var (
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

const defaultSendBuffer = 256

// Origin identifies who published an event and through which connection.
// ConnID may be empty when the event did not arrive over a live connection.
type Origin struct {
	UserID string
	RoomID string
	ConnID string
}

// Connection binds one user to one transport session in exactly one room.
// Outbound envelopes are queued in a bounded buffer that the transport
// drains through Outbox.
type Connection struct {
	ID          string
	UserID      string
	RoomID      string
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newConnection(userID, roomID string, bufSize int, logger *slog.Logger) *Connection {
	if bufSize <= 0 {
		bufSize = defaultSendBuffer
	}
	id := uuid.NewString()
	return &Connection{
		ID:          id,
		UserID:      userID,
		RoomID:      roomID,
		ConnectedAt: now(),
		send:        make(chan []byte, bufSize),
		done:        make(chan struct{}),
		logger: logger.With(
			slog.String("conn", id),
			slog.String("user", userID),
			slog.String("room", roomID)),
	}
}

func (c *Connection) Origin() Origin {
	return Origin{UserID: c.UserID, RoomID: c.RoomID, ConnID: c.ID}
}

// Outbox yields encoded envelopes queued for the peer.
func (c *Connection) Outbox() <-chan []byte {
	return c.send
}

// Done is closed once the connection has been unregistered.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// Send queues e for the peer without blocking.
func (c *Connection) Send(e proto.Event) error {
	data, err := proto.Marshal(e)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}
	if c.Closed() {
		return ErrConnectionClosed
	}
	if !c.enqueue(data) {
		return ErrSendBufferFull
	}
	return nil
}

func (c *Connection) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close marks the connection as done. The send channel is never closed so
// that concurrent fan-out cannot panic; the transport stops on Done.
func (c *Connection) close() bool {
	closed := false
	c.closeOnce.Do(func() {
		close(c.done)
		closed = true
	})
	return closed
}

func now() time.Time {
	return time.Now().UTC()
}
