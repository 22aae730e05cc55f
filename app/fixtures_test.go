package studyroom

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/putto11262002/studyroom/client"
	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/logger"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/putto11262002/studyroom/pkg/router"
	"github.com/stretchr/testify/require"
)

const (
	baseTimeout = 5 * time.Second
	tick        = 10 * time.Millisecond
)

var discardLogger = logger.Discard()

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return &Config{
		Port:               8080,
		Host:               "127.0.0.1",
		MaxConnections:     100,
		RateLimitWindowMS:  60000,
		RateLimitMax:       100,
		AuthSecret:         secret,
		DatabaseURL:        filepath.Join(t.TempDir(), "studyroom.db"),
		AllowedOrigins:     []string{"*"},
		PresenceStaleAfter: 5 * time.Minute,
		SendBufferSize:     256,
		LogLevel:           "error",
		LogFormat:          "text",
	}
}

type testServer struct {
	t      *testing.T
	config *Config
	app    *App
	srv    *httptest.Server
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()
	config := newTestConfig(t)
	for _, f := range mutate {
		f(config)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app, err := New(ctx, config, WithLogger(discardLogger))
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		closeCtx, done := context.WithTimeout(context.Background(), baseTimeout)
		defer done()
		app.Close(closeCtx)
		cancel()
		srv.Close()
	})
	return &testServer{t: t, config: config, app: app, srv: srv}
}

func (s *testServer) token(userID string) string {
	s.t.Helper()
	tok, _, err := core.NewToken(userID, strings.ToUpper(userID[:1])+userID[1:], time.Hour, s.config.AuthSecret)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *testServer) wsDialURL(userID, roomID, token string) string {
	return fmt.Sprintf("%s?userId=%s&roomId=%s&authToken=%s", s.wsURL(), userID, roomID, token)
}

// do sends an API request authenticated as token, or anonymous when token is
// empty, and decodes a 2xx body into out when out is not nil.
func (s *testServer) do(method, path, token string, body any, out any) *http.Response {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, r)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer res.Body.Close()
	// error bodies are only decoded for callers that ask for one
	_, wantErr := out.(*router.JsonError)
	if out != nil && (res.StatusCode < 300 || wantErr) {
		require.NoError(s.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res
}

// engine returns a client engine for userID in roomID over the real
// transports. It is closed when the test ends.
func (s *testServer) engine(userID, roomID string, mutate ...func(*client.Config)) (*client.Engine, *gateDialer) {
	s.t.Helper()
	token := s.token(userID)
	cfg := client.Config{
		UserID: userID,
		RoomID: roomID,
		Token:  token,
		// periodic work is driven explicitly by the tests
		PollInterval:      time.Hour,
		HeartbeatInterval: time.Hour,
	}
	for _, f := range mutate {
		f(&cfg)
	}
	dialer := &gateDialer{Dialer: &client.WSDialer{URL: s.wsURL(), Logger: discardLogger}}
	e, err := client.New(cfg, dialer,
		&client.HTTPPoller{BaseURL: s.srv.URL, Token: token, Client: s.srv.Client()},
		client.WithLogger(discardLogger))
	require.NoError(s.t, err)
	s.t.Cleanup(e.Close)
	return e, dialer
}

// connection returns the server side connection of userID in roomID.
func (s *testServer) connection(userID, roomID string) *core.Connection {
	s.t.Helper()
	var conn *core.Connection
	require.Eventually(s.t, func() bool {
		for _, c := range s.app.registry.Connections(roomID) {
			if c.UserID == userID {
				conn = c
				return true
			}
		}
		return false
	}, baseTimeout, tick)
	return conn
}

// gateDialer fails every dial while it is closed.
type gateDialer struct {
	client.Dialer
	mu     sync.Mutex
	closed bool
	dials  int
}

func (d *gateDialer) Dial(ctx context.Context, userID, roomID, token string) (client.Conn, error) {
	d.mu.Lock()
	d.dials++
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("gate closed: %w", proto.ErrConnectionLost)
	}
	return d.Dialer.Dial(ctx, userID, roomID, token)
}

func (d *gateDialer) setClosed(closed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = closed
}

func (d *gateDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func connectEngine(t *testing.T, e *client.Engine) {
	t.Helper()
	require.NoError(t, e.Connect(context.Background()))
	waitStatus(t, e, client.StatusConnected)
}

func waitStatus(t *testing.T, e *client.Engine, want client.ConnectionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.Snapshot().ConnectionStatus == want
	}, baseTimeout, tick, "status never became %s", want)
}

func countContent(s client.State, content string) int {
	n := 0
	for _, m := range s.Messages {
		if m.Content == content {
			n++
		}
	}
	return n
}
