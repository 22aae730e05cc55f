package core

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/putto11262002/studyroom/pkg/proto"
)

// DefaultStaleAfter is how long an online record stays valid without a heartbeat.
const DefaultStaleAfter = 5 * time.Minute

// PresenceStore persists presence records.
type PresenceStore interface {
	UpsertPresence(ctx context.Context, rec proto.PresenceRecord) error
}

type presenceKey struct {
	userID string
	roomID string
}

type presenceEntry struct {
	proto.PresenceRecord
	persistedAt time.Time
}

// PresenceTracker keeps the online set of every room. Staleness is evaluated
// when the set is read, so a record that stopped receiving heartbeats is
// treated as offline without an explicit transition.
type PresenceTracker struct {
	records    *SyncMap[presenceKey, presenceEntry]
	staleAfter time.Duration
	store      PresenceStore
	now        func() time.Time
	onChange   func(proto.PresenceRecord)
	logger     *slog.Logger
}

type PresenceOption func(*PresenceTracker)

func WithStaleAfter(d time.Duration) PresenceOption {
	return func(p *PresenceTracker) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

// WithPresenceStore writes every change through to store.
func WithPresenceStore(store PresenceStore) PresenceOption {
	return func(p *PresenceTracker) {
		p.store = store
	}
}

func WithPresenceClock(now func() time.Time) PresenceOption {
	return func(p *PresenceTracker) {
		p.now = now
	}
}

func WithPresenceLogger(logger *slog.Logger) PresenceOption {
	return func(p *PresenceTracker) {
		p.logger = logger
	}
}

func NewPresenceTracker(opts ...PresenceOption) *PresenceTracker {
	p := &PresenceTracker{
		records:    NewSyncMap[presenceKey, presenceEntry](),
		staleAfter: DefaultStaleAfter,
		now:        now,
		onChange:   func(proto.PresenceRecord) {},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnChange registers f to be called on every online/offline transition.
func (p *PresenceTracker) OnChange(f func(proto.PresenceRecord)) {
	p.onChange = f
}

// Heartbeat marks the user online in roomID and refreshes lastSeenAt.
func (p *PresenceTracker) Heartbeat(ctx context.Context, userID, roomID string) {
	now := p.now()
	rec := proto.PresenceRecord{UserID: userID, RoomID: roomID, Status: proto.Online, LastSeenAt: now}
	var changed, write bool
	p.records.Update(presenceKey{userID, roomID}, func(prev presenceEntry, existed bool) presenceEntry {
		changed = !existed || !prev.OnlineAt(now, p.staleAfter)
		// refreshes inside the window only reach the store once in a while
		write = changed || now.Sub(prev.persistedAt) >= p.staleAfter/5
		entry := presenceEntry{PresenceRecord: rec, persistedAt: prev.persistedAt}
		if write {
			entry.persistedAt = now
		}
		return entry
	})
	if write {
		p.persist(ctx, rec)
	}
	if changed {
		p.onChange(rec)
	}
}

// MarkOffline records that the user left roomID.
func (p *PresenceTracker) MarkOffline(ctx context.Context, userID, roomID string) {
	now := p.now()
	rec := proto.PresenceRecord{UserID: userID, RoomID: roomID, Status: proto.Offline, LastSeenAt: now}
	prev, existed := p.records.Update(presenceKey{userID, roomID}, func(presenceEntry, bool) presenceEntry {
		return presenceEntry{PresenceRecord: rec, persistedAt: now}
	})
	p.persist(ctx, rec)
	if existed && prev.OnlineAt(now, p.staleAfter) {
		p.onChange(rec)
	}
}

func (p *PresenceTracker) persist(ctx context.Context, rec proto.PresenceRecord) {
	if p.store == nil {
		return
	}
	if err := p.store.UpsertPresence(ctx, rec); err != nil {
		p.logger.Warn("upsert presence",
			slog.String("user", rec.UserID),
			slog.String("room", rec.RoomID),
			slog.String("err", err.Error()))
	}
}

// ListOnline returns the sorted users that are online in roomID right now.
func (p *PresenceTracker) ListOnline(roomID string) []string {
	now := p.now()
	online := make([]string, 0)
	p.records.Range(func(k presenceKey, rec presenceEntry) bool {
		if k.roomID == roomID && rec.OnlineAt(now, p.staleAfter) {
			online = append(online, k.userID)
		}
		return true
	})
	slices.Sort(online)
	return online
}

// Get returns the raw record for (userID, roomID).
func (p *PresenceTracker) Get(userID, roomID string) (proto.PresenceRecord, bool) {
	entry, ok := p.records.Load(presenceKey{userID, roomID})
	return entry.PresenceRecord, ok
}

// Sweep drops records that no longer count as online and have not been
// touched for the staleness window. It only reclaims memory; reads already
// ignore such records.
func (p *PresenceTracker) Sweep() int {
	now := p.now()
	return p.records.DeleteFunc(func(_ presenceKey, rec presenceEntry) bool {
		return now.Sub(rec.LastSeenAt) > p.staleAfter
	})
}

// Run sweeps every interval until ctx is done. Extra sweepers, such as rate
// limiter pruning, run on the same tick.
func (p *PresenceTracker) Run(ctx context.Context, interval time.Duration, extra ...func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := p.Sweep()
			for _, f := range extra {
				n += f()
			}
			if n > 0 {
				p.logger.Debug("swept idle state", slog.Int("removed", n))
			}
		}
	}
}
