package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/studyroom/pkg/proto"
)

// Heartbeater is told about every sign of life from a connection.
type Heartbeater interface {
	Heartbeat(ctx context.Context, userID, roomID string)
}

// Receipt is the outcome of an accepted publish.
type Receipt struct {
	Message proto.Message
	// DraftID is the id the client gave the message, if any.
	DraftID string
	// Duplicate is true when the message had already been stored by an
	// earlier attempt and was therefore not broadcast again.
	Duplicate bool
	// Delivered is the number of connections the message was queued on.
	Delivered int
}

// Broker validates, rate limits, sanitizes, persists and fans out the events
// of every room. Publishes to the same room are serialised so that all
// members observe them in acceptance order.
type Broker struct {
	registry     *Registry
	store        Store
	typing       *TypingSet
	limiter      *RateLimiter
	eventLimiter *RateLimiter
	sanitizer    *Sanitizer
	heartbeats   Heartbeater
	storeFanout  bool
	now          func() time.Time
	logger       *slog.Logger

	mu        sync.Mutex
	roomLocks map[string]*roomLock
	watches   map[string]func()
	// lastStamp is the newest CreatedAt handed out. Stamps only move
	// forward, so a poll for messages after a stamp misses nothing.
	lastStamp time.Time
}

// roomLock serialises the publishes of one room. It lives while any publish
// holds or waits for it.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

type BrokerOption func(*Broker)

func WithBrokerLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = l
	}
}

// WithRateLimit allows max messages per user per window.
func WithRateLimit(max int, window time.Duration) BrokerOption {
	return func(b *Broker) {
		b.limiter = NewRateLimiter(max, window, WithLimiterClock(b.clock))
	}
}

// WithEventLimit caps typing and reaction events per connection.
func WithEventLimit(max int, window time.Duration) BrokerOption {
	return func(b *Broker) {
		b.eventLimiter = NewRateLimiter(max, window, WithLimiterClock(b.clock))
	}
}

func WithSanitizer(s *Sanitizer) BrokerOption {
	return func(b *Broker) {
		b.sanitizer = s
	}
}

func WithHeartbeater(h Heartbeater) BrokerOption {
	return func(b *Broker) {
		b.heartbeats = h
	}
}

// WithBrokerClock replaces the broker's time source, including the one used
// by its rate limiters.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		b.now = now
	}
}

// WithStoreFanout makes the store the system of record for fan-out: the
// broker only persists, and broadcasts what SubscribeRoomChanges reports
// for the rooms it watches.
func WithStoreFanout() BrokerOption {
	return func(b *Broker) {
		b.storeFanout = true
	}
}

func NewBroker(registry *Registry, store Store, typing *TypingSet, opts ...BrokerOption) *Broker {
	b := &Broker{
		registry:  registry,
		store:     store,
		typing:    typing,
		sanitizer: NewSanitizer(DefaultBannedWords),
		now:       now,
		logger:    slog.Default(),
		roomLocks: make(map[string]*roomLock),
		watches:   make(map[string]func()),
	}
	b.limiter = NewRateLimiter(100, time.Minute, WithLimiterClock(b.clock))
	b.eventLimiter = NewRateLimiter(20, time.Second, WithLimiterClock(b.clock))
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// clock defers to b.now so limiters follow a clock set by a later option.
func (b *Broker) clock() time.Time {
	return b.now()
}

// lockRoom blocks until the caller holds roomID's publish lock and returns
// the function that releases it.
func (b *Broker) lockRoom(roomID string) func() {
	b.mu.Lock()
	l, ok := b.roomLocks[roomID]
	if !ok {
		l = &roomLock{}
		b.roomLocks[roomID] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		defer b.mu.Unlock()
		if l.refs--; l.refs == 0 {
			delete(b.roomLocks, roomID)
		}
	}
}

// stamp returns the creation time of the next accepted message. It is
// strictly after every earlier stamp even if the clock stalls or steps back.
func (b *Broker) stamp() time.Time {
	at := b.now().UTC().Truncate(time.Microsecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !at.After(b.lastStamp) {
		at = b.lastStamp.Add(time.Microsecond)
	}
	b.lastStamp = at
	return at
}

// finalID derives the stored id. A draft id from the same sender always maps
// to the same final id, which makes client retries idempotent.
func finalID(senderID, draftID string) string {
	if draftID == "" {
		return uuid.NewString()
	}
	return proto.DraftMessageID(senderID, draftID)
}

// Publish accepts a chat, reply or file upload event from origin.
func (b *Broker) Publish(ctx context.Context, from Origin, e proto.Event) (Receipt, error) {
	msg, ok := proto.MessageFromEvent(e)
	if !ok {
		return Receipt{}, proto.Validationf("%s events cannot be published", e.Type())
	}
	if err := e.Validate(); err != nil {
		return Receipt{}, err
	}
	if from.UserID == "" || from.RoomID == "" {
		return Receipt{}, proto.Validationf("sender and room are required")
	}

	if res := b.limiter.Allow(from.UserID); !res.Allowed {
		return Receipt{}, &proto.RateLimitError{RetryAfter: res.RetryAfter(b.now())}
	}

	receipt := Receipt{DraftID: msg.ID}
	msg.ID = finalID(from.UserID, receipt.DraftID)
	msg.RoomID = from.RoomID
	msg.SenderID = from.UserID
	msg.Content = b.sanitizer.Clean(msg.Content)
	msg.Status = proto.StatusSent

	unlock := b.lockRoom(from.RoomID)
	defer unlock()

	// stamped under the room lock so that time order is acceptance order
	msg.CreatedAt = b.stamp()
	stored, err := b.store.InsertMessage(WithOriginConn(ctx, from.ConnID), msg)
	switch {
	case errors.Is(err, proto.ErrDuplicateID):
		receipt.Message = stored
		receipt.Duplicate = true
		return receipt, nil
	case errors.Is(err, proto.ErrStoreUnavailable):
		return Receipt{}, fmt.Errorf("Publish: %w", err)
	case err != nil:
		return Receipt{}, fmt.Errorf("Publish: %w: %w", proto.ErrStoreUnavailable, err)
	}
	receipt.Message = stored

	if !b.storeFanout {
		receipt.Delivered = b.registry.Broadcast(from.RoomID, stored.Event(), ExceptConn(from.ConnID))
	}
	return receipt, nil
}

// HandleEvent processes one event received from conn and answers it on
// conn where the protocol calls for it.
func (b *Broker) HandleEvent(ctx context.Context, conn *Connection, e proto.Event) {
	if b.heartbeats != nil {
		b.heartbeats.Heartbeat(ctx, conn.UserID, conn.RoomID)
	}

	switch ev := e.(type) {
	case proto.ChatEvent, proto.ReplyEvent, proto.FileUploadEvent:
		b.handlePublish(ctx, conn, ev)
	case proto.TypingEvent:
		if !b.allowEvent(conn) {
			return
		}
		at := b.now()
		b.typing.Set(conn.UserID, conn.RoomID, ev.Typing, at)
		b.registry.Broadcast(conn.RoomID, proto.TypingEvent{
			RoomID:    conn.RoomID,
			UserID:    conn.UserID,
			Typing:    ev.Typing,
			Timestamp: at,
		}, ExceptConn(conn.ID))
	case proto.ReactionEvent:
		if err := ev.Validate(); err != nil {
			b.reject(conn, ev.ID, err)
			return
		}
		if !b.allowEvent(conn) {
			return
		}
		ev.ID = uuid.NewString()
		ev.RoomID = conn.RoomID
		ev.UserID = conn.UserID
		ev.Timestamp = b.now()
		b.registry.Broadcast(conn.RoomID, ev, ExceptConn(conn.ID))
	case proto.PresenceEvent:
		// the heartbeat above is all a client presence ping means
	case proto.SystemEvent, proto.ErrorEvent:
		b.reject(conn, "", ev.Validate())
	default:
		b.reject(conn, "", proto.Validationf("unsupported event type %q", e.Type()))
	}
}

func (b *Broker) handlePublish(ctx context.Context, conn *Connection, e proto.Event) {
	draft, _ := proto.MessageFromEvent(e)
	receipt, err := b.Publish(ctx, conn.Origin(), e)
	if err != nil {
		b.reject(conn, draft.ID, err)
		return
	}

	ack := proto.ChatEvent{
		ID:        receipt.Message.ID,
		RoomID:    receipt.Message.RoomID,
		UserID:    receipt.Message.SenderID,
		Content:   receipt.Message.Content,
		Timestamp: receipt.Message.CreatedAt,
		Status:    proto.StatusSent,
		MessageID: receipt.DraftID,
	}
	if err := conn.Send(ack); err != nil {
		conn.logger.Warn("send ack", slog.String("err", err.Error()))
		return
	}
	if receipt.Delivered > 0 {
		ack.Status = proto.StatusDelivered
		if err := conn.Send(ack); err != nil {
			conn.logger.Warn("send delivered", slog.String("err", err.Error()))
		}
	}
}

func (b *Broker) reject(conn *Connection, draftID string, err error) {
	if proto.CodeOf(err) == proto.CodeInternal || errors.Is(err, proto.ErrStoreUnavailable) {
		conn.logger.Error("event failed", slog.String("err", err.Error()))
	} else {
		conn.logger.Debug("event rejected", slog.String("err", err.Error()))
	}
	if sendErr := conn.Send(ErrorEvent(conn.RoomID, draftID, err)); sendErr != nil {
		conn.logger.Warn("send error envelope", slog.String("err", sendErr.Error()))
	}
}

func (b *Broker) allowEvent(conn *Connection) bool {
	if b.eventLimiter.Allow(conn.ID).Allowed {
		return true
	}
	conn.logger.Debug("event dropped by per-connection cap")
	return false
}

// Release forgets the per-connection state the broker keeps for conn.
func (b *Broker) Release(conn *Connection) {
	b.eventLimiter.Forget(conn.ID)
}

// WatchRoom subscribes to the store's change feed for roomID when the broker
// fans out from the store. It is a no-op otherwise.
func (b *Broker) WatchRoom(roomID string) {
	if !b.storeFanout {
		return
	}
	b.mu.Lock()
	if _, ok := b.watches[roomID]; ok {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	cancel, err := b.store.SubscribeRoomChanges(context.Background(), roomID, func(change MessageChange) {
		msg := change.Message
		b.registry.Broadcast(msg.RoomID, msg.Event(), ExceptConn(change.OriginConnID))
	})
	if err != nil {
		b.logger.Error("subscribe room changes", slog.String("room", roomID), slog.String("err", err.Error()))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watches[roomID]; ok {
		cancel()
		return
	}
	b.watches[roomID] = cancel
}

// UnwatchRoom drops the change feed of an empty room.
func (b *Broker) UnwatchRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.watches[roomID]; ok {
		cancel()
		delete(b.watches, roomID)
	}
}

// Prune forgets rate limit buckets whose window has ended.
func (b *Broker) Prune() int {
	return b.limiter.Prune() + b.eventLimiter.Prune()
}

// Close cancels every change feed subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for room, cancel := range b.watches {
		cancel()
		delete(b.watches, room)
	}
}
