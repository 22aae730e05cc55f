package studyroom

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/putto11262002/studyroom/client"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEndMessageSeenOnce(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	alice, _ := s.engine("alice", "room1")
	bob, _ := s.engine("bob", "room1")
	connectEngine(t, alice)
	connectEngine(t, bob)
	s.connection("bob", "room1")

	tempID, err := alice.SendMessage(ctx, "hello")
	require.NoError(t, err)
	finalID := proto.DraftMessageID("alice", tempID)

	require.Eventually(t, func() bool {
		m, ok := alice.Snapshot().Message(tempID)
		return ok && m.ID == finalID && m.Status == proto.StatusDelivered
	}, baseTimeout, tick)
	require.Eventually(t, func() bool {
		return countContent(bob.Snapshot(), "hello") == 1
	}, baseTimeout, tick)

	// the stored copy arrives again through the catch-up API
	require.NoError(t, alice.PollReconcile(ctx))
	require.NoError(t, bob.PollReconcile(ctx))

	for _, e := range []*client.Engine{alice, bob} {
		snap := e.Snapshot()
		assert.Equal(t, 1, countContent(snap, "hello"))
		m, ok := snap.Message(finalID)
		require.True(t, ok)
		assert.Equal(t, "alice", m.SenderID)
		assert.False(t, m.Pending())
	}
}

func TestEndToEndRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.RateLimitMax = 100 })
	ctx := context.Background()
	alice, _ := s.engine("alice", "room1")
	bob, _ := s.engine("bob", "room1")
	connectEngine(t, alice)
	connectEngine(t, bob)
	s.connection("bob", "room1")

	var last string
	for i := range 101 {
		id, err := alice.SendMessage(ctx, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		last = id
	}

	require.Eventually(t, func() bool {
		m, ok := alice.Snapshot().Message(last)
		return ok && m.Status == proto.StatusError
	}, baseTimeout, tick)
	require.Eventually(t, func() bool {
		return len(bob.Snapshot().Messages) == 100
	}, baseTimeout, tick)

	var notice *client.Notice
	for _, n := range alice.Snapshot().Errors {
		if n.MessageID == last {
			notice = &n
		}
	}
	require.NotNil(t, notice)
	assert.Equal(t, proto.CodeRateLimited, notice.Code)

	require.NoError(t, bob.PollReconcile(ctx))
	snap := bob.Snapshot()
	assert.Len(t, snap.Messages, 100)
	assert.Zero(t, countContent(snap, "msg 100"))
	assert.Equal(t, 1, countContent(snap, "msg 99"))

	// the failed draft stays in the sender's list and nowhere else
	assert.Len(t, alice.Snapshot().Messages, 101)
}

func TestEndToEndReconnectRecoversGap(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	alice, _ := s.engine("alice", "room1")
	bob, bobDialer := s.engine("bob", "room1", func(c *client.Config) {
		c.ReconnectBase = 20 * time.Millisecond
		c.MaxReconnectAttempts = 10
	})
	connectEngine(t, alice)
	connectEngine(t, bob)
	s.connection("bob", "room1")

	_, err := alice.SendMessage(ctx, "before")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return countContent(bob.Snapshot(), "before") == 1
	}, baseTimeout, tick)

	// drop bob on the server and keep him out while alice talks
	bobDialer.setClosed(true)
	s.app.manager.Unregister(ctx, s.connection("bob", "room1"))
	waitStatus(t, bob, client.StatusReconnecting)

	var gap []string
	for i := range 3 {
		id, err := alice.SendMessage(ctx, fmt.Sprintf("gap %d", i))
		require.NoError(t, err)
		gap = append(gap, id)
	}
	for _, id := range gap {
		require.Eventually(t, func() bool {
			m, ok := alice.Snapshot().Message(id)
			return ok && !m.Pending()
		}, baseTimeout, tick)
	}
	assert.Zero(t, countContent(bob.Snapshot(), "gap 0"))

	bobDialer.setClosed(false)
	waitStatus(t, bob, client.StatusConnected)

	require.Eventually(t, func() bool {
		snap := bob.Snapshot()
		for i := range 3 {
			if countContent(snap, fmt.Sprintf("gap %d", i)) != 1 {
				return false
			}
		}
		return true
	}, baseTimeout, tick)
	assert.Equal(t, 1, countContent(bob.Snapshot(), "before"))
	assert.Greater(t, bobDialer.Dials(), 2)
}

func TestEndToEndTypingAndPresence(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	alice, _ := s.engine("alice", "room1")
	bob, _ := s.engine("bob", "room1")
	connectEngine(t, alice)
	connectEngine(t, bob)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice", "bob"}, bob.Snapshot().OnlineMembers)
	}, baseTimeout, tick)

	alice.InputChanged(ctx)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice"}, bob.Snapshot().TypingUsers)
	}, baseTimeout, tick)

	// sending ends the typing burst
	_, err := alice.SendMessage(ctx, "done typing")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(bob.Snapshot().TypingUsers) == 0
	}, baseTimeout, tick)

	alice.Close()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"bob"}, bob.Snapshot().OnlineMembers)
	}, baseTimeout, tick)

	var left bool
	for _, e := range bob.Snapshot().System {
		if e.Content == "Alice left the room" {
			left = true
		}
	}
	assert.True(t, left)
}
