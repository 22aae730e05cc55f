package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/studyroom/pkg/proto"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024
)

// EventHandler processes the events a connection receives.
type EventHandler interface {
	HandleEvent(ctx context.Context, conn *Connection, e proto.Event)
}

// wsPeer pumps envelopes between a websocket and a registered Connection.
type wsPeer struct {
	ws      *websocket.Conn
	conn    *Connection
	handler EventHandler
	ctx     context.Context
	// closed is called once when the read side ends.
	closed func()
	logger *slog.Logger
}

// ServeWS starts the read and write loops for conn on ws. onClose runs when
// the peer goes away and is expected to unregister conn.
func ServeWS(ctx context.Context, wg *sync.WaitGroup, ws *websocket.Conn, conn *Connection, handler EventHandler, onClose func()) {
	p := &wsPeer{
		ws:      ws,
		conn:    conn,
		handler: handler,
		ctx:     ctx,
		closed:  onClose,
		logger:  conn.logger,
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.readLoop()
	}()
	go func() {
		defer wg.Done()
		p.writeLoop()
	}()
}

func (p *wsPeer) readLoop() {
	p.logger.Debug("read loop started")
	defer func() {
		p.closed()
		p.ws.Close()
		p.logger.Debug("read loop stopped")
	}()

	p.ws.SetReadLimit(maxMessageSize)
	p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		p.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		format, r, err := p.ws.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Info("peer closed connection")
			} else if websocket.IsUnexpectedCloseError(err) {
				p.logger.Warn("unexpected close", slog.String("err", err.Error()))
			} else if !errors.Is(err, websocket.ErrCloseSent) {
				p.logger.Debug("read failed", slog.String("err", err.Error()))
			}
			return
		}

		if format != websocket.TextMessage {
			p.logger.Warn("unexpected message format", slog.Int("format", format))
			continue
		}

		e, err := proto.Decode(r)
		if err != nil {
			if sendErr := p.conn.Send(ErrorEvent(p.conn.RoomID, "", err)); sendErr != nil {
				p.logger.Warn("send error envelope", slog.String("err", sendErr.Error()))
			}
			continue
		}
		p.handler.HandleEvent(p.ctx, p.conn, e)
	}
}

func (p *wsPeer) writeLoop() {
	p.logger.Debug("write loop started")
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.ws.Close()
		p.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case data := <-p.conn.Outbox():
			p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("write failed", slog.String("err", err.Error()))
				return
			}
		case <-p.conn.Done():
			p.flush()
			p.closeWith(websocket.CloseNormalClosure, "")
			return
		case <-p.ctx.Done():
			p.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.logger.Debug("write ping failed", slog.String("err", err.Error()))
				return
			}
		}
	}
}

// flush writes whatever is still queued when the connection is closed by
// the server, so that a final error envelope reaches the peer.
func (p *wsPeer) flush() {
	for {
		select {
		case data := <-p.conn.Outbox():
			p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *wsPeer) closeWith(code int, reason string) {
	p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	p.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// RejectWS answers a failed handshake on an upgraded socket: it sends one
// error envelope, a close frame and closes the socket.
func RejectWS(ws *websocket.Conn, roomID string, err error) {
	defer ws.Close()

	data, mErr := proto.Marshal(ErrorEvent(roomID, "", err))
	if mErr == nil {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.TextMessage, data)
	}

	code := websocket.ClosePolicyViolation
	if errors.Is(err, proto.ErrTooManyConnections) {
		code = websocket.CloseTryAgainLater
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, string(proto.CodeOf(err))))
}
