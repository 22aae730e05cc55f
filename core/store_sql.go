package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/putto11262002/studyroom/pkg/proto"
)

const maxListLimit = 500

// SQLStore implements Store on SQLite or Postgres. Insert notifications
// are delivered through its Notifier.
type SQLStore struct {
	db       *DB
	notifier Notifier
	logger   *slog.Logger
}

func NewSQLStore(db *DB, notifier Notifier, logger *slog.Logger) *SQLStore {
	return &SQLStore{db: db, notifier: notifier, logger: logger}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, proto.ErrStoreUnavailable, err)
}

func (s *SQLStore) InsertMessage(ctx context.Context, msg proto.Message) (proto.Message, error) {
	if msg.Attachments == nil {
		msg.Attachments = []proto.Attachment{}
	}
	if msg.Status == "" {
		msg.Status = proto.StatusSent
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return msg, fmt.Errorf("InsertMessage: marshal attachments: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Microsecond)

	query := s.db.rebind(`
		INSERT INTO messages (id, room_id, sender_id, content, created_at, reply_to_id, attachments, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.CreatedAt.UnixMicro(),
		msg.ReplyToID, string(attachments), string(msg.Status))
	if err != nil {
		return msg, unavailable("InsertMessage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return msg, unavailable("InsertMessage", err)
	}
	if n == 0 {
		existing, err := s.getMessage(ctx, msg.ID)
		if err != nil {
			return msg, err
		}
		return existing, fmt.Errorf("InsertMessage(%s): %w", msg.ID, proto.ErrDuplicateID)
	}

	change := MessageChange{Message: msg, OriginConnID: originConnFrom(ctx)}
	if err := s.notifier.Notify(ctx, change); err != nil {
		s.logger.Warn("notify insert", slog.String("room", msg.RoomID), slog.String("err", err.Error()))
	}
	return msg, nil
}

func (s *SQLStore) getMessage(ctx context.Context, id string) (proto.Message, error) {
	query := s.db.rebind(`
		SELECT id, room_id, sender_id, content, created_at, reply_to_id, attachments, status
		FROM messages WHERE id = ?`)
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return msg, unavailable("getMessage", err)
	}
	return msg, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (proto.Message, error) {
	var (
		msg         proto.Message
		createdAt   int64
		attachments string
		status      string
	)
	if err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &createdAt,
		&msg.ReplyToID, &attachments, &status); err != nil {
		return msg, err
	}
	msg.CreatedAt = time.UnixMicro(createdAt).UTC()
	msg.Status = proto.Status(status)
	if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
		return msg, fmt.Errorf("unmarshal attachments: %w", err)
	}
	if msg.Attachments == nil {
		msg.Attachments = []proto.Attachment{}
	}
	return msg, nil
}

func (s *SQLStore) ListMessagesSince(ctx context.Context, roomID string, since time.Time, limit int) ([]proto.Message, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var after int64
	if !since.IsZero() {
		after = since.UTC().Truncate(time.Microsecond).UnixMicro()
	}

	query := s.db.rebind(`
		SELECT id, room_id, sender_id, content, created_at, reply_to_id, attachments, status
		FROM messages
		WHERE room_id = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, roomID, after, limit)
	if err != nil {
		return nil, unavailable("ListMessagesSince", err)
	}
	defer rows.Close()

	msgs := make([]proto.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("ListMessagesSince", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ListMessagesSince", err)
	}
	return msgs, nil
}

func (s *SQLStore) UpsertPresence(ctx context.Context, rec proto.PresenceRecord) error {
	query := s.db.rebind(`
		INSERT INTO presence (user_id, room_id, status, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, room_id)
		DO UPDATE SET status = excluded.status, last_seen_at = excluded.last_seen_at`)
	_, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.RoomID, string(rec.Status), rec.LastSeenAt.UTC().UnixMicro())
	if err != nil {
		return unavailable("UpsertPresence", err)
	}
	return nil
}

// GetPresence returns the stored record for (userID, roomID), or nil.
func (s *SQLStore) GetPresence(ctx context.Context, userID, roomID string) (*proto.PresenceRecord, error) {
	query := s.db.rebind(`
		SELECT user_id, room_id, status, last_seen_at FROM presence
		WHERE user_id = ? AND room_id = ?`)
	var (
		rec      proto.PresenceRecord
		status   string
		lastSeen int64
	)
	err := s.db.QueryRowContext(ctx, query, userID, roomID).Scan(&rec.UserID, &rec.RoomID, &status, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("GetPresence", err)
	}
	rec.Status = proto.PresenceStatus(status)
	rec.LastSeenAt = time.UnixMicro(lastSeen).UTC()
	return &rec, nil
}

func (s *SQLStore) SubscribeRoomChanges(ctx context.Context, roomID string, fn func(MessageChange)) (func(), error) {
	cancel, err := s.notifier.Subscribe(ctx, roomID, fn)
	if err != nil {
		return nil, unavailable("SubscribeRoomChanges", err)
	}
	return cancel, nil
}

// UpsertUser records the display name of a user.
func (s *SQLStore) UpsertUser(ctx context.Context, id, displayName string) error {
	query := s.db.rebind(`
		INSERT INTO users (id, display_name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, id, displayName, now().UnixMicro()); err != nil {
		return unavailable("UpsertUser", err)
	}
	return nil
}

func (s *SQLStore) ResolveUserDisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := s.db.rebind(`SELECT id, display_name FROM users WHERE id IN (` + placeholders + `)`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("ResolveUserDisplayNames", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, unavailable("ResolveUserDisplayNames", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("ResolveUserDisplayNames", err)
	}
	return names, nil
}

func (s *SQLStore) Close() error {
	return s.notifier.Close()
}
