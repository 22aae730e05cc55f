package core

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// NameSource resolves user ids to display names in batches.
type NameSource interface {
	ResolveUserDisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

type cachedName struct {
	name      string
	fetchedAt time.Time
}

// NameCache fronts a NameSource with an in-memory cache. Concurrent misses
// for the same ids share one lookup. When the source fails, stale entries
// are served and unknown ids resolve to themselves.
type NameCache struct {
	source NameSource
	cache  *SyncMap[string, cachedName]
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

func NewNameCache(source NameSource, ttl time.Duration, logger *slog.Logger) *NameCache {
	return &NameCache{
		source: source,
		cache:  NewSyncMap[string, cachedName](),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// DisplayName returns the display name of a single user.
func (c *NameCache) DisplayName(ctx context.Context, userID string) string {
	return c.Resolve(ctx, userID)[userID]
}

// Resolve returns a name for every id in ids.
func (c *NameCache) Resolve(ctx context.Context, ids ...string) map[string]string {
	names := make(map[string]string, len(ids))
	var missing []string
	now := c.now()
	for _, id := range ids {
		if cached, ok := c.cache.Load(id); ok && now.Sub(cached.fetchedAt) < c.ttl {
			names[id] = cached.name
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return names
	}

	slices.Sort(missing)
	missing = slices.Compact(missing)
	key := strings.Join(missing, "\x00")
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.source.ResolveUserDisplayNames(ctx, missing)
	})
	if err != nil {
		c.logger.Warn("resolve display names", slog.Int("ids", len(missing)), slog.String("err", err.Error()))
	}
	fetched, _ := v.(map[string]string)

	for _, id := range missing {
		if name, ok := fetched[id]; ok && name != "" {
			c.cache.Store(id, cachedName{name: name, fetchedAt: now})
			names[id] = name
			continue
		}
		if cached, ok := c.cache.Load(id); ok {
			names[id] = cached.name
			continue
		}
		names[id] = id
	}
	return names
}

// Put seeds the cache, typically from a token claim.
func (c *NameCache) Put(userID, name string) {
	if name == "" {
		return
	}
	c.cache.Store(userID, cachedName{name: name, fetchedAt: c.now()})
}
