package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/putto11262002/studyroom/pkg/logger"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/stretchr/testify/require"
)

var baseTimeout = time.Second

var discardLogger = logger.Discard()

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		timers: make(map[int]*fakeTimer),
	}
}

type fakeTimer struct {
	c  *fakeClock
	id int
	at time.Time
	d  time.Duration
	f  func()
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	_, ok := t.c.timers[t.id]
	delete(t.c.timers, t.id)
	return ok
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, id: c.seq, at: c.now.Add(d), d: d, f: f}
	c.timers[t.id] = t
	return t
}

// Advance moves time forward by d and runs every timer that became due, in
// order of their deadlines.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.id < next.id) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		delete(c.timers, next.id)
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// Durations lists the durations of the pending timers, shortest first.
func (c *fakeClock) Durations() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	slices.Sort(out)
	return out
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fakeConn is an in-memory realtime session.
type fakeConn struct {
	events chan proto.Event

	mu      sync.Mutex
	sent    []proto.Event
	sendErr error
	err     error
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan proto.Event, 64)}
}

func (c *fakeConn) Send(_ context.Context, e proto.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return proto.ErrConnectionLost
	}
	c.sent = append(c.sent, e)
	return nil
}

func (c *fakeConn) Events() <-chan proto.Event { return c.events }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.end(errors.New("closed by client"))
	return nil
}

// end terminates the session with err.
func (c *fakeConn) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.events)
}

func (c *fakeConn) push(e proto.Event) {
	c.events <- e
}

func (c *fakeConn) Sent() []proto.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

// sentOfType returns the sent events of type T.
func sentOfType[T proto.Event](c *fakeConn) []T {
	var out []T
	for _, e := range c.Sent() {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// fakeDialer hands out queued results in order and fails once the queue
// is empty.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) queue(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

func (d *fakeDialer) Dial(_ context.Context, _, _, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, fmt.Errorf("%w: refused", proto.ErrConnectionLost)
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakePoller serves messages from memory with the server's since semantics.
type fakePoller struct {
	mu       sync.Mutex
	messages []proto.Message
	online   []string
	err      error
	sinces   []time.Time
}

func (p *fakePoller) store(msgs ...proto.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msgs...)
	sort.SliceStable(p.messages, func(i, j int) bool {
		return p.messages[i].CreatedAt.Before(p.messages[j].CreatedAt)
	})
}

func (p *fakePoller) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePoller) MessagesSince(_ context.Context, _ string, since time.Time, limit int) ([]proto.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinces = append(p.sinces, since)
	if p.err != nil {
		return nil, p.err
	}
	var out []proto.Message
	for _, m := range p.messages {
		if m.CreatedAt.After(since) {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (p *fakePoller) OnlineMembers(context.Context, string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.online), p.err
}

func (p *fakePoller) DisplayNames(_ context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		names[id] = id
	}
	return names, nil
}

func (p *fakePoller) Sinces() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sinces)
}

type engineFixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *fakeClock
	dialer *fakeDialer
	poller *fakePoller
	engine *Engine
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	if cfg.UserID == "" {
		cfg.UserID = "alice"
	}
	if cfg.RoomID == "" {
		cfg.RoomID = "room1"
	}
	f := &engineFixture{
		t:      t,
		ctx:    context.Background(),
		clock:  newFakeClock(),
		dialer: &fakeDialer{},
		poller: &fakePoller{},
	}
	seq := 0
	var mu sync.Mutex
	e, err := New(cfg, f.dialer, f.poller,
		WithClock(f.clock),
		WithLogger(discardLogger),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("draft%d", seq)
		}))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	f.engine = e
	return f
}

// connect dials a fresh fake session and waits until the engine is connected
// and has finished its initial poll.
func (f *engineFixture) connect() *fakeConn {
	f.t.Helper()
	conn := newFakeConn()
	f.dialer.queue(dialResult{conn: conn})
	polls := len(f.poller.Sinces())
	require.NoError(f.t, f.engine.Connect(f.ctx))
	f.waitStatus(StatusConnected)
	require.Eventually(f.t, func() bool {
		return len(f.poller.Sinces()) > polls
	}, baseTimeout, baseTimeout/20)
	return conn
}

func (f *engineFixture) waitStatus(status ConnectionStatus) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		return f.engine.Snapshot().ConnectionStatus == status
	}, baseTimeout, baseTimeout/20, "status never became %s", status)
}

// waitMessage waits until the state holds a message matching cond.
func (f *engineFixture) waitMessage(id string, cond func(MessageView) bool) MessageView {
	f.t.Helper()
	var got MessageView
	require.Eventually(f.t, func() bool {
		m, ok := f.engine.Snapshot().Message(id)
		if !ok || !cond(m) {
			return false
		}
		got = m
		return true
	}, baseTimeout, baseTimeout/20, "message %s never matched", id)
	return got
}

// ack builds the acknowledgment the server sends for a chat draft.
func ack(userID, roomID, draftID, content string, at time.Time) proto.ChatEvent {
	return proto.ChatEvent{
		ID:        proto.DraftMessageID(userID, draftID),
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		Timestamp: at,
		Status:    proto.StatusSent,
		MessageID: draftID,
	}
}

func stored(id, sender, content string, at time.Time) proto.Message {
	return proto.Message{
		ID:          id,
		RoomID:      "room1",
		SenderID:    sender,
		Content:     content,
		CreatedAt:   at,
		Attachments: []proto.Attachment{},
		Status:      proto.StatusSent,
	}
}

func ids(s State) []string {
	out := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.ID)
	}
	return out
}
