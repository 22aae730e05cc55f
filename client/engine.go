package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/jaevor/go-nanoid"
	"github.com/putto11262002/studyroom/pkg/proto"
)

var (
	ErrClosed       = errors.New("engine closed")
	ErrNotConnected = fmt.Errorf("not connected: %w", proto.ErrConnectionLost)
	ErrUnknownDraft = errors.New("unknown draft")
)

// TempIDPrefix marks ids that were assigned locally and not yet confirmed.
const TempIDPrefix = "tmp_"

const (
	timerPoll        = "poll"
	timerReconnect   = "reconnect"
	timerHeartbeat   = "heartbeat"
	timerTypingIdle  = "typing-idle"
	timerAckPrefix   = "ack:"
	timerTypingAwayP = "typing-expire:"
)

type Config struct {
	UserID string
	RoomID string
	Token  string

	// AckTimeout is how long a draft waits for its acknowledgment before it
	// is marked as failed.
	AckTimeout   time.Duration
	PollInterval time.Duration
	PollLimit    int
	// ReconnectBase is the delay before the first reconnect attempt. Each
	// further attempt doubles it.
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	// TypingIdle is how long after the last input typing_stop is sent.
	TypingIdle time.Duration
	// TypingExpiry is how long a remote typing indicator lives without update.
	TypingExpiry      time.Duration
	HeartbeatInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollLimit <= 0 {
		c.PollLimit = 200
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.TypingIdle <= 0 {
		c.TypingIdle = 3 * time.Second
	}
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = 3 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
}

// Engine keeps one user's view of one room in sync with the server. Local
// drafts, pushed events and poll results all go through the same reducer,
// keyed by message id, so the order they arrive in does not matter.
type Engine struct {
	cfg    Config
	dialer Dialer
	poller Poller
	clock  Clock
	timers *timerSet
	newID  func() string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	st      *state
	conn    Conn
	pending map[string]proto.Event
	typing  bool
	// resumeFrom is where the next poll starts when the push stream had a gap.
	resumeFrom *time.Time
	closed     bool

	notifyMu     sync.Mutex
	notified     uint64
	subscribers  map[int]func(State)
	nextSubID    int
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator replaces the generator of temporary draft ids. The
// generated value is prefixed with TempIDPrefix.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) {
		e.newID = f
	}
}

func New(cfg Config, dialer Dialer, poller Poller, opts ...Option) (*Engine, error) {
	if cfg.UserID == "" || cfg.RoomID == "" {
		return nil, fmt.Errorf("New: %w: user and room are required", proto.ErrValidation)
	}
	cfg.setDefaults()

	e := &Engine{
		cfg:         cfg,
		dialer:      dialer,
		poller:      poller,
		clock:       realClock{},
		logger:      slog.Default(),
		st:          newState(cfg.UserID),
		pending:     make(map[string]proto.Event),
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.newID == nil {
		gen, err := gonanoid.Standard(21)
		if err != nil {
			return nil, fmt.Errorf("New: nanoid: %w", err)
		}
		e.newID = gen
	}
	e.timers = newTimerSet(e.clock)
	e.logger = e.logger.With(slog.String("room", cfg.RoomID), slog.String("user", cfg.UserID))
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.snapshot()
}

// Subscribe calls f with a snapshot after every state change until the
// returned function is called. f runs on the goroutine that caused the
// change and must not call back into the engine synchronously.
func (e *Engine) Subscribe(f func(State)) func() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = f
	return func() {
		e.notifyMu.Lock()
		defer e.notifyMu.Unlock()
		delete(e.subscribers, id)
	}
}

// ActiveTimers is the number of timers the engine has pending.
func (e *Engine) ActiveTimers() int {
	return e.timers.Len()
}

// dispatch runs actions through the reducer and notifies subscribers.
func (e *Engine) dispatch(actions ...action) {
	e.mu.Lock()
	e.st.dispatch(actions...)
	snap := e.st.snapshot()
	e.mu.Unlock()
	e.notify(snap)
}

// dispatchLocked is dispatch for callers that hold e.mu. The returned
// snapshot must be passed to notify once the lock is released.
func (e *Engine) dispatchLocked(actions ...action) State {
	e.st.dispatch(actions...)
	return e.st.snapshot()
}

func (e *Engine) notify(snap State) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	// a newer snapshot was already delivered by a concurrent dispatch
	if snap.Version <= e.notified {
		return
	}
	e.notified = snap.Version
	for _, f := range e.subscribers {
		f(snap)
	}
}

// Connect opens the realtime session and starts polling. Transport failures
// are retried in the background; only an authentication failure is returned.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.st.status != StatusDisconnected {
		e.mu.Unlock()
		return nil
	}
	snap := e.dispatchLocked(connectionChanged{status: StatusConnecting})
	e.mu.Unlock()
	e.notify(snap)

	e.schedulePoll()

	conn, err := e.dialer.Dial(ctx, e.cfg.UserID, e.cfg.RoomID, e.cfg.Token)
	if err != nil {
		if errors.Is(err, proto.ErrAuth) {
			e.fail(err)
			return fmt.Errorf("Connect: %w", err)
		}
		e.logger.Warn("connect failed", slog.String("err", err.Error()))
		e.mu.Lock()
		snap := e.beginReconnectLocked()
		e.mu.Unlock()
		e.notify(snap)
		return nil
	}
	e.attach(conn)
	return nil
}

// attach makes conn the live session.
func (e *Engine) attach(conn Conn) {
	e.mu.Lock()
	if e.closed || e.st.status == StatusDisconnected {
		e.mu.Unlock()
		conn.Close()
		return
	}
	e.conn = conn
	snap := e.dispatchLocked(connectionChanged{status: StatusConnected, attempt: 0})
	e.mu.Unlock()
	e.notify(snap)
	e.logger.Info("connected")

	go e.readLoop(conn)
	e.scheduleHeartbeat()
	go e.loadOnline()
	go e.PollReconcile(e.ctx)
}

func (e *Engine) readLoop(conn Conn) {
	for ev := range conn.Events() {
		e.OnPush(ev)
	}
	e.transportLost(conn, conn.Err())
}

func (e *Engine) transportLost(conn Conn, err error) {
	e.mu.Lock()
	if e.conn != conn {
		e.mu.Unlock()
		return
	}
	e.conn = nil
	e.typing = false
	if e.closed || e.st.status == StatusDisconnected {
		e.mu.Unlock()
		return
	}
	if errors.Is(err, proto.ErrAuth) {
		e.mu.Unlock()
		e.fail(err)
		return
	}
	if e.resumeFrom == nil {
		at := e.st.latestConfirmed()
		e.resumeFrom = &at
	}
	snap := e.beginReconnectLocked()
	e.mu.Unlock()
	e.notify(snap)

	e.timers.Cancel(timerHeartbeat)
	e.timers.Cancel(timerTypingIdle)
	if err != nil {
		e.logger.Warn("connection lost", slog.String("err", err.Error()))
	}
}

// beginReconnectLocked moves to reconnecting and schedules the first attempt.
func (e *Engine) beginReconnectLocked() State {
	snap := e.dispatchLocked(connectionChanged{status: StatusReconnecting, attempt: 0})
	return e.scheduleReconnectLocked(snap)
}

// scheduleReconnectLocked schedules the next attempt, or gives up once the
// maximum number of attempts has been used.
func (e *Engine) scheduleReconnectLocked(snap State) State {
	attempt := e.st.attempt + 1
	if attempt > e.cfg.MaxReconnectAttempts {
		return e.dispatchLocked(
			connectionChanged{status: StatusDisconnected, attempt: e.st.attempt},
			errorRaised{
				code:   proto.CodeConnectionLost,
				reason: fmt.Sprintf("could not reconnect after %d attempts", e.cfg.MaxReconnectAttempts),
				at:     e.clock.Now(),
			})
	}
	snap = e.dispatchLocked(connectionChanged{status: StatusReconnecting, attempt: attempt})
	e.timers.Schedule(timerReconnect, BackoffDelay(e.cfg.ReconnectBase, attempt), e.reconnect)
	return snap
}

func (e *Engine) reconnect() {
	e.mu.Lock()
	if e.closed || e.st.status != StatusReconnecting {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	conn, err := e.dialer.Dial(e.ctx, e.cfg.UserID, e.cfg.RoomID, e.cfg.Token)
	if err != nil {
		if errors.Is(err, proto.ErrAuth) {
			e.fail(err)
			return
		}
		e.logger.Debug("reconnect failed", slog.String("err", err.Error()))
		e.mu.Lock()
		if e.st.status != StatusReconnecting {
			e.mu.Unlock()
			return
		}
		snap := e.scheduleReconnectLocked(e.st.snapshot())
		e.mu.Unlock()
		e.notify(snap)
		return
	}
	e.attach(conn)
}

// fail ends the session for good after an authentication failure.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	snap := e.dispatchLocked(
		connectionChanged{status: StatusDisconnected},
		errorRaised{code: proto.CodeOf(err), reason: err.Error(), at: e.clock.Now()})
	e.mu.Unlock()
	e.notify(snap)

	e.stopSessionTimers()
	if conn != nil {
		conn.Close()
	}
	e.logger.Error("session rejected", slog.String("err", err.Error()))
}

func (e *Engine) stopSessionTimers() {
	for _, name := range []string{timerPoll, timerReconnect, timerHeartbeat, timerTypingIdle} {
		e.timers.Cancel(name)
	}
	e.timers.CancelPrefix(timerTypingAwayP)
}

// Disconnect closes the session and stops polling. Drafts still waiting
// for an acknowledgment are marked as failed.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.typing = false
	actions := []action{connectionChanged{status: StatusDisconnected}}
	now := e.clock.Now()
	for id := range e.pending {
		if entry, ok := e.st.messages[id]; ok && entry.msg.Status == proto.StatusSending {
			actions = append(actions, publishFailed{
				draftID: id,
				code:    proto.CodeConnectionLost,
				reason:  "disconnected before the message was acknowledged",
				at:      now,
			})
		}
	}
	snap := e.dispatchLocked(actions...)
	e.mu.Unlock()
	e.notify(snap)

	e.stopSessionTimers()
	e.timers.CancelPrefix(timerAckPrefix)
	if conn != nil {
		conn.Close()
	}
}

// Close disconnects and releases every timer. The engine cannot be reused.
func (e *Engine) Close() {
	e.Disconnect()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.timers.StopAll()
	e.cancel()
}

func (e *Engine) SendMessage(ctx context.Context, content string) (string, error) {
	return e.send(ctx, proto.ChatEvent{Content: content})
}

func (e *Engine) SendReply(ctx context.Context, replyTo, content string) (string, error) {
	return e.send(ctx, proto.ReplyEvent{ChatEvent: proto.ChatEvent{Content: content}, ReplyTo: replyTo})
}

func (e *Engine) SendFile(ctx context.Context, attachment proto.Attachment, caption string) (string, error) {
	return e.send(ctx, proto.FileUploadEvent{
		ChatEvent:   proto.ChatEvent{Content: caption},
		Attachments: []proto.Attachment{attachment},
	})
}

// send inserts an optimistic entry for ev and transmits it. It returns the
// temporary id of the entry.
func (e *Engine) send(ctx context.Context, ev proto.Event) (string, error) {
	tempID := TempIDPrefix + e.newID()
	now := e.clock.Now().UTC()
	base := proto.ChatEvent{ID: tempID, RoomID: e.cfg.RoomID, UserID: e.cfg.UserID, Timestamp: now}

	switch v := ev.(type) {
	case proto.ChatEvent:
		base.Content = v.Content
		ev = base
	case proto.ReplyEvent:
		base.Content = v.Content
		v.ChatEvent = base
		ev = v
	case proto.FileUploadEvent:
		base.Content = v.Caption()
		v.ChatEvent = base
		ev = v
	default:
		return "", fmt.Errorf("send: %w: %s is not a message", proto.ErrValidation, ev.Type())
	}
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	msg, _ := proto.MessageFromEvent(ev)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	e.pending[tempID] = ev
	snap := e.dispatchLocked(optimisticInserted{msg: msg})
	e.mu.Unlock()
	e.notify(snap)

	e.stopTyping(ctx)
	return tempID, e.transmit(ctx, tempID, ev)
}

// Retry resends a failed draft under its original temporary id.
func (e *Engine) Retry(ctx context.Context, tempID string) error {
	e.mu.Lock()
	ev, ok := e.pending[tempID]
	entry, exists := e.st.messages[tempID]
	if !ok || !exists {
		e.mu.Unlock()
		return fmt.Errorf("Retry(%s): %w", tempID, ErrUnknownDraft)
	}
	if entry.msg.Status != proto.StatusError {
		e.mu.Unlock()
		return nil
	}
	snap := e.dispatchLocked(retryStarted{draftID: tempID})
	e.mu.Unlock()
	e.notify(snap)

	return e.transmit(ctx, tempID, ev)
}

func (e *Engine) transmit(ctx context.Context, tempID string, ev proto.Event) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		e.draftFailed(tempID, ErrNotConnected)
		return fmt.Errorf("send: %w", ErrNotConnected)
	}
	e.timers.Schedule(timerAckPrefix+tempID, e.cfg.AckTimeout, func() {
		e.draftFailed(tempID, fmt.Errorf("%w: no acknowledgment within %s", proto.ErrConnectionLost, e.cfg.AckTimeout))
	})
	if err := conn.Send(ctx, ev); err != nil {
		e.timers.Cancel(timerAckPrefix + tempID)
		e.draftFailed(tempID, err)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// draftFailed marks a draft as failed if it is still waiting.
func (e *Engine) draftFailed(tempID string, err error) {
	e.mu.Lock()
	entry, ok := e.st.messages[tempID]
	if !ok || entry.msg.Status != proto.StatusSending {
		e.mu.Unlock()
		return
	}
	snap := e.dispatchLocked(publishFailed{
		draftID: tempID,
		code:    proto.CodeOf(err),
		reason:  err.Error(),
		at:      e.clock.Now(),
	})
	e.mu.Unlock()
	e.notify(snap)
}

// OnPush applies one event received from the server.
func (e *Engine) OnPush(ev proto.Event) {
	switch v := ev.(type) {
	case proto.ChatEvent, proto.ReplyEvent, proto.FileUploadEvent:
		e.onMessage(ev)
	case proto.TypingEvent:
		e.onTyping(v)
	case proto.ReactionEvent:
		e.dispatch(reactionReceived{messageID: v.MessageID, userID: v.UserID, reaction: v.Reaction})
	case proto.PresenceEvent:
		e.dispatch(presenceChanged{userID: v.UserID, status: v.Status})
	case proto.SystemEvent:
		e.dispatch(systemReceived{event: v})
	case proto.ErrorEvent:
		e.onError(v)
	default:
		e.logger.Warn("unhandled event", slog.String("type", string(ev.Type())))
	}
}

func chatOf(ev proto.Event) proto.ChatEvent {
	switch v := ev.(type) {
	case proto.ChatEvent:
		return v
	case proto.ReplyEvent:
		return v.ChatEvent
	case proto.FileUploadEvent:
		return v.ChatEvent
	}
	return proto.ChatEvent{}
}

func (e *Engine) onMessage(ev proto.Event) {
	msg, _ := proto.MessageFromEvent(ev)
	draftID := chatOf(ev).MessageID
	if msg.SenderID == e.cfg.UserID && draftID != "" {
		e.timers.Cancel(timerAckPrefix + draftID)
		e.mu.Lock()
		delete(e.pending, draftID)
		snap := e.dispatchLocked(publishAcked{draftID: draftID, msg: msg})
		e.mu.Unlock()
		e.notify(snap)
		return
	}
	e.dispatch(messageReceived{msg: msg})
}

func (e *Engine) onTyping(v proto.TypingEvent) {
	if v.UserID == e.cfg.UserID {
		return
	}
	at := v.Timestamp
	if at.IsZero() {
		at = e.clock.Now()
	}
	e.dispatch(typingChanged{userID: v.UserID, typing: v.Typing, at: at})

	name := timerTypingAwayP + v.UserID
	if !v.Typing {
		e.timers.Cancel(name)
		return
	}
	e.timers.Schedule(name, e.cfg.TypingExpiry, func() {
		e.dispatch(typingChanged{userID: v.UserID, typing: false})
	})
}

func (e *Engine) onError(v proto.ErrorEvent) {
	err := proto.ErrorFromCode(v.Code, v.Message)
	if v.Code == proto.CodeAuth {
		e.fail(err)
		return
	}
	if v.MessageID != "" {
		e.timers.Cancel(timerAckPrefix + v.MessageID)
		e.mu.Lock()
		_, known := e.st.messages[v.MessageID]
		e.mu.Unlock()
		if known {
			e.dispatch(publishFailed{draftID: v.MessageID, code: v.Code, reason: v.Message, at: e.clock.Now()})
			return
		}
	}
	e.dispatch(errorRaised{code: v.Code, reason: v.Message, messageID: v.MessageID, at: e.clock.Now()})
}

// PollReconcile fetches the messages the server stored after the newest one
// this engine has confirmed and merges them. A failure is recorded and
// leaves the state untouched.
func (e *Engine) PollReconcile(ctx context.Context) error {
	e.mu.Lock()
	since := e.st.latestConfirmed()
	resumed := e.resumeFrom != nil
	if resumed && e.resumeFrom.Before(since) {
		since = *e.resumeFrom
	}
	e.mu.Unlock()

	msgs, err := e.poller.MessagesSince(ctx, e.cfg.RoomID, since, e.cfg.PollLimit)
	if err != nil {
		if !errors.Is(err, proto.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", proto.ErrStoreUnavailable, err)
		}
		e.logger.Warn("poll failed", slog.String("err", err.Error()))
		e.dispatch(errorRaised{code: proto.CodeStoreUnavailable, reason: err.Error(), at: e.clock.Now()})
		return fmt.Errorf("PollReconcile: %w", err)
	}

	e.mu.Lock()
	switch {
	case !resumed:
	case len(msgs) >= e.cfg.PollLimit:
		// more pages to go
		last := msgs[len(msgs)-1].CreatedAt
		e.resumeFrom = &last
	case e.st.status == StatusConnected:
		// pushes cover everything from here on
		e.resumeFrom = nil
	}
	snap := e.dispatchLocked(messagesPolled{msgs: msgs})
	e.mu.Unlock()
	e.notify(snap)
	return nil
}

func (e *Engine) schedulePoll() {
	e.timers.Schedule(timerPoll, e.cfg.PollInterval, func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.PollInterval)
		defer cancel()
		e.PollReconcile(ctx)

		e.mu.Lock()
		active := !e.closed && e.st.status != StatusDisconnected
		e.mu.Unlock()
		if active {
			e.schedulePoll()
		}
	})
}

func (e *Engine) loadOnline() {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.PollInterval)
	defer cancel()
	users, err := e.poller.OnlineMembers(ctx, e.cfg.RoomID)
	if err != nil {
		e.logger.Warn("load online members", slog.String("err", err.Error()))
		return
	}
	e.dispatch(onlineLoaded{users: users})
}

func (e *Engine) scheduleHeartbeat() {
	e.timers.Schedule(timerHeartbeat, e.cfg.HeartbeatInterval, func() {
		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(e.ctx, writeWait)
		defer cancel()
		err := conn.Send(ctx, proto.PresenceEvent{
			RoomID:    e.cfg.RoomID,
			UserID:    e.cfg.UserID,
			Status:    proto.Online,
			Timestamp: e.clock.Now().UTC(),
		})
		if err != nil {
			e.logger.Debug("heartbeat", slog.String("err", err.Error()))
		}
		e.scheduleHeartbeat()
	})
}

// InputChanged tells the engine the user edited the draft. typing_start is
// sent on the first change; typing_stop follows once the input has been
// idle for TypingIdle.
func (e *Engine) InputChanged(ctx context.Context) {
	e.mu.Lock()
	conn := e.conn
	start := !e.typing && conn != nil
	if start {
		e.typing = true
	}
	e.mu.Unlock()
	if conn == nil {
		return
	}

	if start {
		e.sendTyping(ctx, conn, true)
	}
	e.timers.Schedule(timerTypingIdle, e.cfg.TypingIdle, func() {
		ctx, cancel := context.WithTimeout(e.ctx, writeWait)
		defer cancel()
		e.stopTyping(ctx)
	})
}

func (e *Engine) stopTyping(ctx context.Context) {
	e.timers.Cancel(timerTypingIdle)
	e.mu.Lock()
	conn := e.conn
	was := e.typing
	e.typing = false
	e.mu.Unlock()
	if was && conn != nil {
		e.sendTyping(ctx, conn, false)
	}
}

func (e *Engine) sendTyping(ctx context.Context, conn Conn, typing bool) {
	err := conn.Send(ctx, proto.TypingEvent{
		RoomID:    e.cfg.RoomID,
		UserID:    e.cfg.UserID,
		Typing:    typing,
		Timestamp: e.clock.Now().UTC(),
	})
	if err != nil {
		e.logger.Debug("send typing", slog.String("err", err.Error()))
	}
}

// React sends a reaction to messageID.
func (e *Engine) React(ctx context.Context, messageID, reaction string) error {
	reaction = strings.TrimSpace(reaction)
	ev := proto.ReactionEvent{
		RoomID:    e.cfg.RoomID,
		UserID:    e.cfg.UserID,
		MessageID: messageID,
		Reaction:  reaction,
		Timestamp: e.clock.Now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("React: %w", err)
	}

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("React: %w", ErrNotConnected)
	}
	if err := conn.Send(ctx, ev); err != nil {
		return fmt.Errorf("React: %w", err)
	}
	e.dispatch(reactionReceived{messageID: messageID, userID: e.cfg.UserID, reaction: reaction})
	return nil
}
