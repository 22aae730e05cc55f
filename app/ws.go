package studyroom

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/pkg/proto"
)

// handleWS upgrades the request and registers the connection. A rejected
// handshake is answered on the upgraded socket with an error envelope and a
// close frame, so clients can tell the reason apart from a network failure.
func (app *App) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, roomID := q.Get("userId"), q.Get("roomId")
	token := core.TokenFromRequest(r)

	ws, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Debug("upgrade", slog.String("err", err.Error()))
		return
	}

	app.rememberName(r.Context(), token)

	conn, err := app.manager.Register(r.Context(), userID, roomID, token)
	if err != nil {
		app.logger.Info("handshake rejected",
			slog.String("user", userID),
			slog.String("room", roomID),
			slog.String("err", err.Error()))
		core.RejectWS(ws, roomID, err)
		return
	}

	core.ServeWS(app.context, &app.wg, ws, conn, app.broker, func() {
		app.manager.Unregister(context.Background(), conn)
	})
}

// rememberName stores the display name carried by a token so that join
// messages and name lookups can use it.
func (app *App) rememberName(ctx context.Context, token string) {
	if token == "" {
		return
	}
	id, err := app.tokens.ValidateToken(ctx, token)
	if err != nil || id.Name == "" {
		return
	}
	if err := app.store.UpsertUser(ctx, id.UserID, id.Name); err != nil {
		app.logger.Warn("upsert user", slog.String("user", id.UserID), slog.String("err", err.Error()))
	}
	app.names.Put(id.UserID, id.Name)
}

func (app *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(app.config.AllowedOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return slices.Contains(app.config.AllowedOrigins, origin)
}

func (app *App) onRegistered(ctx context.Context, c *core.Connection) {
	app.presence.Heartbeat(ctx, c.UserID, c.RoomID)

	// bring the new connection up to date with who else is here
	for _, userID := range app.presence.ListOnline(c.RoomID) {
		if userID == c.UserID {
			continue
		}
		rec, ok := app.presence.Get(userID, c.RoomID)
		if !ok {
			continue
		}
		err := c.Send(proto.PresenceEvent{
			RoomID:    c.RoomID,
			UserID:    userID,
			Status:    rec.Status,
			Timestamp: rec.LastSeenAt,
		})
		if err != nil {
			c.Logger().Warn("send presence snapshot", slog.String("err", err.Error()))
			return
		}
	}
}

func (app *App) onUnregistered(ctx context.Context, c *core.Connection) {
	app.broker.Release(c)
	if app.manager.LastInRoom(c.UserID, c.RoomID) {
		app.presence.MarkOffline(ctx, c.UserID, c.RoomID)
	}
}

func (app *App) onPresenceChange(rec proto.PresenceRecord) {
	app.registry.Broadcast(rec.RoomID, proto.PresenceEvent{
		RoomID:    rec.RoomID,
		UserID:    rec.UserID,
		Status:    rec.Status,
		Timestamp: rec.LastSeenAt,
	}, nil)
}
