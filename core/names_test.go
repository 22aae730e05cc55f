package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingNames struct {
	names map[string]string
	calls atomic.Int32
	fail  atomic.Bool
	// gate blocks lookups until closed, when set.
	gate chan struct{}
}

func (s *countingNames) ResolveUserDisplayNames(_ context.Context, ids []string) (map[string]string, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.fail.Load() {
		return nil, errors.New("lookup failed")
	}
	out := make(map[string]string)
	for _, id := range ids {
		if n, ok := s.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func TestNameCache_Resolve(t *testing.T) {
	src := &countingNames{names: map[string]string{"alice": "Alice", "bob": "Bob"}}
	c := NewNameCache(src, time.Minute, discardLogger)
	ctx := context.Background()

	assert.Equal(t, map[string]string{"alice": "Alice", "bob": "Bob", "carol": "carol"},
		c.Resolve(ctx, "alice", "bob", "carol"))
	assert.Equal(t, int32(1), src.calls.Load())

	assert.Equal(t, "Alice", c.DisplayName(ctx, "alice"))
	assert.Equal(t, int32(1), src.calls.Load(), "served from cache")

	assert.Equal(t, "carol", c.DisplayName(ctx, "carol"))
	assert.Equal(t, int32(2), src.calls.Load(), "unknown ids are not cached")
}

func TestNameCache_Expiry(t *testing.T) {
	src := &countingNames{names: map[string]string{"alice": "Alice"}}
	clock := newTestClock()
	c := NewNameCache(src, time.Minute, discardLogger)
	c.now = clock.Now
	ctx := context.Background()

	c.DisplayName(ctx, "alice")
	clock.Advance(2 * time.Minute)
	src.names["alice"] = "Alice L."
	assert.Equal(t, "Alice L.", c.DisplayName(ctx, "alice"))
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestNameCache_SourceFailure(t *testing.T) {
	src := &countingNames{names: map[string]string{"alice": "Alice"}}
	clock := newTestClock()
	c := NewNameCache(src, time.Minute, discardLogger)
	c.now = clock.Now
	ctx := context.Background()

	c.DisplayName(ctx, "alice")
	clock.Advance(2 * time.Minute)
	src.fail.Store(true)

	assert.Equal(t, "Alice", c.DisplayName(ctx, "alice"), "stale name beats no name")
	assert.Equal(t, "bob", c.DisplayName(ctx, "bob"))
}

func TestNameCache_Put(t *testing.T) {
	src := &countingNames{}
	c := NewNameCache(src, time.Minute, discardLogger)

	c.Put("alice", "Alice")
	c.Put("bob", "")
	assert.Equal(t, "Alice", c.DisplayName(context.Background(), "alice"))
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestNameCache_SharedLookup(t *testing.T) {
	src := &countingNames{names: map[string]string{"alice": "Alice"}, gate: make(chan struct{})}
	c := NewNameCache(src, time.Minute, discardLogger)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.DisplayName(context.Background(), "alice")
		}()
	}

	assert.Eventually(t, func() bool { return src.calls.Load() >= 1 }, baseTimeout, baseTimeout/20)
	time.Sleep(baseTimeout / 20)
	close(src.gate)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "Alice", r)
	}
	assert.Less(t, src.calls.Load(), int32(8))
}
