package core

import (
	"testing"
	"time"

	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Membership(t *testing.T) {
	r := NewRegistry(discardLogger)
	a1 := newConnection("alice", "room-1", 4, discardLogger)
	a2 := newConnection("alice", "room-2", 4, discardLogger)
	b := newConnection("bob", "room-1", 4, discardLogger)

	change, err := r.add(a1, 0)
	require.NoError(t, err)
	assert.Equal(t, membershipChange{firstInRoom: true, roomOpened: true}, change)

	_, err = r.add(a2, 0)
	require.NoError(t, err)
	change, err = r.add(b, 0)
	require.NoError(t, err)
	assert.Equal(t, membershipChange{firstInRoom: true}, change)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.RoomCount())
	assert.Equal(t, []string{"room-1", "room-2"}, r.Rooms("alice"))
	assert.Equal(t, []string{"alice", "bob"}, r.Members("room-1"))
	assert.Len(t, r.Connections("room-1"), 2)
	got, ok := r.Get(b.ID)
	require.True(t, ok)
	assert.Same(t, b, got)

	change, removed := r.remove(a2)
	require.True(t, removed)
	assert.Equal(t, membershipChange{lastInRoom: true, roomClosed: true}, change)
	assert.Equal(t, []string{"room-1"}, r.Rooms("alice"))

	_, removed = r.remove(a2)
	assert.False(t, removed)
}

func TestRegistry_Broadcast(t *testing.T) {
	r := NewRegistry(discardLogger)
	a := newConnection("alice", "room-1", 4, discardLogger)
	b := newConnection("bob", "room-1", 4, discardLogger)
	closed := newConnection("carol", "room-1", 4, discardLogger)
	for _, c := range []*Connection{a, b, closed} {
		_, err := r.add(c, 0)
		require.NoError(t, err)
	}
	closed.close()

	e := proto.SystemEvent{RoomID: "room-1", Content: "hi", Timestamp: time.Now()}

	assert.Equal(t, 2, r.Broadcast("room-1", e, nil))
	assert.Equal(t, 1, r.Broadcast("room-1", e, ExceptConn(a.ID)))
	assert.Equal(t, 0, r.Broadcast("room-2", e, nil))

	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 2)
	assert.Empty(t, drain(t, closed))
}

func TestRegistry_Overflow(t *testing.T) {
	r := NewRegistry(discardLogger)
	var overflowed []*Connection
	r.onOverflow = func(c *Connection) { overflowed = append(overflowed, c) }

	c := newConnection("alice", "room-1", 1, discardLogger)
	_, err := r.add(c, 0)
	require.NoError(t, err)

	e := proto.SystemEvent{RoomID: "room-1", Content: "hi"}
	assert.Equal(t, 1, r.Broadcast("room-1", e, nil))
	assert.Equal(t, 0, r.Broadcast("room-1", e, nil))
	require.Len(t, overflowed, 1)
	assert.Same(t, c, overflowed[0])
}

func TestConnection_Send(t *testing.T) {
	c := newConnection("alice", "room-1", 1, discardLogger)
	e := proto.SystemEvent{RoomID: "room-1", Content: "hi"}

	require.NoError(t, c.Send(e))
	assert.ErrorIs(t, c.Send(e), ErrSendBufferFull)

	assert.True(t, c.close())
	assert.False(t, c.close())
	assert.ErrorIs(t, c.Send(e), ErrConnectionClosed)
}

func TestTypingSet(t *testing.T) {
	s := NewTypingSet()
	at := time.Now()

	assert.True(t, s.Set("bob", "room-1", true, at))
	assert.False(t, s.Set("bob", "room-1", true, at))
	assert.True(t, s.Set("alice", "room-1", true, at))
	s.Set("carol", "room-2", true, at)
	assert.Equal(t, []string{"alice", "bob"}, s.Typing("room-1"))

	assert.True(t, s.Clear("bob", "room-1"))
	assert.False(t, s.Clear("bob", "room-1"))
	assert.Equal(t, []string{"alice"}, s.Typing("room-1"))
}
