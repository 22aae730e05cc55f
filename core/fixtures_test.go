package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/studyroom/migrations"
	"github.com/putto11262002/studyroom/pkg/logger"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/stretchr/testify/require"
)

var baseTimeout = time.Second

var discardLogger = logger.Discard()

// newTestDB opens a private in-memory sqlite database with all migrations applied.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := OpenDB(ctx, "file:"+uuid.NewString(), &SQLiteDBOption{Mode: "memory", Cache: "shared"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(migrations.FS))
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	return NewSQLStore(newTestDB(t), NewLocalNotifier(discardLogger), discardLogger)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// staticTokens accepts tokens of the form "token:<userID>".
type staticTokens struct{}

func (staticTokens) ValidateToken(_ context.Context, token string) (Identity, error) {
	user, ok := strings.CutPrefix(token, "token:")
	if !ok || user == "" {
		return Identity{}, NewInsensitiveError(proto.ErrAuth, "bad token")
	}
	return Identity{UserID: user}, nil
}

// flakyStore fails every call while down is set.
type flakyStore struct {
	Store
	mu   sync.Mutex
	down bool
}

func (s *flakyStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *flakyStore) isDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

var errBackendDown = errors.New("backend down")

func (s *flakyStore) InsertMessage(ctx context.Context, msg proto.Message) (proto.Message, error) {
	if s.isDown() {
		return msg, errBackendDown
	}
	return s.Store.InsertMessage(ctx, msg)
}

func (s *flakyStore) UpsertPresence(ctx context.Context, rec proto.PresenceRecord) error {
	if s.isDown() {
		return errBackendDown
	}
	return s.Store.UpsertPresence(ctx, rec)
}

func (s *flakyStore) ResolveUserDisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	if s.isDown() {
		return nil, errBackendDown
	}
	return s.Store.ResolveUserDisplayNames(ctx, ids)
}

type coreFixture struct {
	ctx      context.Context
	t        *testing.T
	clock    *testClock
	store    *flakyStore
	sql      *SQLStore
	registry *Registry
	typing   *TypingSet
	manager  *ConnManager
	broker   *Broker
	presence *PresenceTracker
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	rateMax     int
	rateWindow  time.Duration
	maxConns    int
	sendBuffer  int
	storeFanout bool
}

func withRateLimit(max int, window time.Duration) fixtureOption {
	return func(c *fixtureConfig) {
		c.rateMax = max
		c.rateWindow = window
	}
}

func withMaxConns(n int) fixtureOption {
	return func(c *fixtureConfig) { c.maxConns = n }
}

func withSendBuffer(n int) fixtureOption {
	return func(c *fixtureConfig) { c.sendBuffer = n }
}

func withStoreFanout() fixtureOption {
	return func(c *fixtureConfig) { c.storeFanout = true }
}

// newCoreFixture wires the server core the same way the app does.
func newCoreFixture(t *testing.T, opts ...fixtureOption) *coreFixture {
	cfg := fixtureConfig{rateMax: 100, rateWindow: time.Minute, sendBuffer: 64}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := newTestClock()
	sqlStore := newTestStore(t)
	store := &flakyStore{Store: sqlStore}
	registry := NewRegistry(discardLogger)
	typing := NewTypingSet()
	names := NewNameCache(store, time.Minute, discardLogger)

	presence := NewPresenceTracker(
		WithPresenceClock(clock.Now),
		WithPresenceStore(store),
		WithPresenceLogger(discardLogger))

	manager := NewConnManager(registry, staticTokens{}, typing,
		WithLogger(discardLogger),
		WithMaxConnections(cfg.maxConns),
		WithSendBuffer(cfg.sendBuffer),
		WithNameResolver(names))

	brokerOpts := []BrokerOption{
		WithBrokerLogger(discardLogger),
		WithBrokerClock(clock.Now),
		WithRateLimit(cfg.rateMax, cfg.rateWindow),
		WithHeartbeater(presence),
	}
	if cfg.storeFanout {
		brokerOpts = append(brokerOpts, WithStoreFanout())
	}
	broker := NewBroker(registry, store, typing, brokerOpts...)

	manager.OnRegistered(func(ctx context.Context, c *Connection) {
		presence.Heartbeat(ctx, c.UserID, c.RoomID)
	})
	manager.OnUnregistered(func(ctx context.Context, c *Connection) {
		broker.Release(c)
		if manager.LastInRoom(c.UserID, c.RoomID) {
			presence.MarkOffline(ctx, c.UserID, c.RoomID)
		}
	})
	manager.OnRoomOpened(broker.WatchRoom)
	manager.OnRoomClosed(broker.UnwatchRoom)
	presence.OnChange(func(rec proto.PresenceRecord) {
		registry.Broadcast(rec.RoomID, proto.PresenceEvent{
			RoomID: rec.RoomID, UserID: rec.UserID, Status: rec.Status, Timestamp: rec.LastSeenAt,
		}, nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		manager.Close(context.Background())
		broker.Close()
		cancel()
	})

	return &coreFixture{
		ctx:      ctx,
		t:        t,
		clock:    clock,
		store:    store,
		sql:      sqlStore,
		registry: registry,
		typing:   typing,
		manager:  manager,
		broker:   broker,
		presence: presence,
	}
}

func (f *coreFixture) join(userID, roomID string) *Connection {
	f.t.Helper()
	c, err := f.manager.Register(f.ctx, userID, roomID, "token:"+userID)
	require.NoError(f.t, err)
	return c
}

// drain returns every event queued on c without blocking.
func drain(t *testing.T, c *Connection) []proto.Event {
	t.Helper()
	var events []proto.Event
	for {
		select {
		case data := <-c.Outbox():
			e, err := proto.Unmarshal(data)
			require.NoError(t, err)
			events = append(events, e)
		default:
			return events
		}
	}
}

// ofType keeps the events of type T.
func ofType[T proto.Event](events []proto.Event) []T {
	var out []T
	for _, e := range events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func chat(draftID, content string) proto.ChatEvent {
	return proto.ChatEvent{ID: draftID, Content: content}
}
