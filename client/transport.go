package client

import (
	"context"
	"time"

	"github.com/putto11262002/studyroom/pkg/proto"
)

// Dialer opens a realtime session for a user in a room.
type Dialer interface {
	Dial(ctx context.Context, userID, roomID, token string) (Conn, error)
}

// Conn is one realtime session. Events is closed when the session ends,
// after which Err reports why.
type Conn interface {
	Send(ctx context.Context, e proto.Event) error
	Events() <-chan proto.Event
	Err() error
	Close() error
}

// Poller reads the durable store, independent of the realtime session.
type Poller interface {
	MessagesSince(ctx context.Context, roomID string, since time.Time, limit int) ([]proto.Message, error)
	OnlineMembers(ctx context.Context, roomID string) ([]string, error)
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}
