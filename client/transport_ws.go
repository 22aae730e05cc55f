package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/studyroom/pkg/proto"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// WSDialer dials the /ws endpoint of a studyroom server.
type WSDialer struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

func (d *WSDialer) Dial(ctx context.Context, userID, roomID, token string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("Dial: parse url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	q.Set("roomId", roomID)
	q.Set("authToken", token)
	u.RawQuery = q.Encode()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("Dial: %w", proto.ErrAuth)
		}
		return nil, fmt.Errorf("Dial: %w: %w", proto.ErrConnectionLost, err)
	}

	c := &wsConn{
		ws:     ws,
		events: make(chan proto.Event, 64),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("room", roomID), slog.String("user", userID)),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	events chan proto.Event
	done   chan struct{}
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (c *wsConn) readLoop() {
	defer close(c.events)
	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		e, err := proto.Unmarshal(data)
		if err != nil {
			c.logger.Warn("drop undecodable envelope", slog.String("err", err.Error()))
			continue
		}
		select {
		case c.events <- e:
		case <-c.done:
			c.setErr(errClosedByClient)
			return
		}
	}
}

var errClosedByClient = errors.New("closed by client")

func (c *wsConn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	select {
	case <-c.done:
		c.err = errClosedByClient
		return
	default:
	}
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		c.err = fmt.Errorf("%w: %w", proto.ErrAuth, err)
		return
	}
	c.err = fmt.Errorf("%w: %w", proto.ErrConnectionLost, err)
}

func (c *wsConn) Events() <-chan proto.Event {
	return c.events
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Send(ctx context.Context, e proto.Event) error {
	data, err := proto.Marshal(e)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("Send: %w: %w", proto.ErrConnectionLost, err)
	}
	return nil
}

// Close sends a normal close frame and tears the socket down.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
