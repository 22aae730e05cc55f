package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/putto11262002/studyroom/pkg/proto"
)

// Store is the durable collaborator the core relies on. Every call is
// fallible I/O; callers degrade instead of failing hard.
type Store interface {
	// InsertMessage persists msg. It returns an error wrapping
	// proto.ErrDuplicateID when a message with the same id exists.
	InsertMessage(ctx context.Context, msg proto.Message) (proto.Message, error)
	// ListMessagesSince returns up to limit messages of roomID created after
	// since, oldest first.
	ListMessagesSince(ctx context.Context, roomID string, since time.Time, limit int) ([]proto.Message, error)
	UpsertPresence(ctx context.Context, rec proto.PresenceRecord) error
	// SubscribeRoomChanges calls fn for every message inserted into roomID
	// until the returned cancel function is called.
	SubscribeRoomChanges(ctx context.Context, roomID string, fn func(MessageChange)) (cancel func(), err error)
	// ResolveUserDisplayNames returns the display names it knows for ids.
	ResolveUserDisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// MessageChange is one insert reported by the change feed.
type MessageChange struct {
	Message proto.Message `json:"message"`
	// OriginConnID is the connection the message was published from. It is
	// empty for messages published without a socket.
	OriginConnID string `json:"originConnId,omitempty"`
}

type originConnKey struct{}

// WithOriginConn tags ctx with the connection an insert is made for, so the
// change feed can report it.
func WithOriginConn(ctx context.Context, connID string) context.Context {
	if connID == "" {
		return ctx
	}
	return context.WithValue(ctx, originConnKey{}, connID)
}

func originConnFrom(ctx context.Context) string {
	id, _ := ctx.Value(originConnKey{}).(string)
	return id
}

// Notifier delivers insert notifications for rooms.
type Notifier interface {
	Notify(ctx context.Context, change MessageChange) error
	Subscribe(ctx context.Context, roomID string, fn func(MessageChange)) (cancel func(), err error)
	Close() error
}

// LocalNotifier is an in-process Notifier. Callbacks run synchronously on
// the notifying goroutine.
type LocalNotifier struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(MessageChange)
	nextID int
	logger *slog.Logger
}

func NewLocalNotifier(logger *slog.Logger) *LocalNotifier {
	return &LocalNotifier{
		subs:   make(map[string]map[int]func(MessageChange)),
		logger: logger,
	}
}

func (n *LocalNotifier) Notify(_ context.Context, change MessageChange) error {
	roomID := change.Message.RoomID
	n.mu.RLock()
	fns := make([]func(MessageChange), 0, len(n.subs[roomID]))
	for _, fn := range n.subs[roomID] {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
	return nil
}

func (n *LocalNotifier) Subscribe(_ context.Context, roomID string, fn func(MessageChange)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	if n.subs[roomID] == nil {
		n.subs[roomID] = make(map[int]func(MessageChange))
	}
	n.subs[roomID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[roomID], id)
			if len(n.subs[roomID]) == 0 {
				delete(n.subs, roomID)
			}
		})
	}, nil
}

func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = make(map[string]map[int]func(MessageChange))
	return nil
}
