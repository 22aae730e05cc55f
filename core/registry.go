package core

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/putto11262002/studyroom/pkg/proto"
)

// Registry owns the live connections and the room membership index.
// Only the ConnManager mutates it; the broker and presence push read from it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	// rooms maps a room to its connections keyed by connection id.
	rooms map[string]map[string]*Connection
	// users maps a user to the rooms it is in with the number of
	// connections it holds in each.
	users map[string]map[string]int

	onOverflow func(*Connection)
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:      make(map[string]*Connection),
		rooms:      make(map[string]map[string]*Connection),
		users:      make(map[string]map[string]int),
		onOverflow: func(*Connection) {},
		logger:     logger,
	}
}

type membershipChange struct {
	// firstInRoom is true when the user had no other connection in the room.
	firstInRoom bool
	// lastInRoom is true when the user has no connection left in the room.
	lastInRoom bool
	roomOpened bool
	roomClosed bool
}

func (r *Registry) add(c *Connection, max int) (membershipChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var change membershipChange
	if max > 0 && len(r.conns) >= max {
		return change, proto.ErrTooManyConnections
	}

	r.conns[c.ID] = c

	room, ok := r.rooms[c.RoomID]
	if !ok {
		room = make(map[string]*Connection)
		r.rooms[c.RoomID] = room
		change.roomOpened = true
	}
	room[c.ID] = c

	rooms, ok := r.users[c.UserID]
	if !ok {
		rooms = make(map[string]int)
		r.users[c.UserID] = rooms
	}
	rooms[c.RoomID]++
	change.firstInRoom = rooms[c.RoomID] == 1

	return change, nil
}

func (r *Registry) remove(c *Connection) (membershipChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var change membershipChange
	if _, ok := r.conns[c.ID]; !ok {
		return change, false
	}
	delete(r.conns, c.ID)

	if room, ok := r.rooms[c.RoomID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(r.rooms, c.RoomID)
			change.roomClosed = true
		}
	}

	if rooms, ok := r.users[c.UserID]; ok {
		rooms[c.RoomID]--
		if rooms[c.RoomID] <= 0 {
			delete(rooms, c.RoomID)
			change.lastInRoom = true
		}
		if len(rooms) == 0 {
			delete(r.users, c.UserID)
		}
	}
	return change, true
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomCount returns the number of rooms with at least one connection.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Members returns the sorted ids of the users connected to roomID.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	members := make([]string, 0, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		members = append(members, c.UserID)
	}
	slices.Sort(members)
	return members
}

// Rooms returns the sorted rooms userID is connected to.
func (r *Registry) Rooms(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.users[userID]))
	for room := range r.users[userID] {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}

// IsMember reports whether userID holds a connection in roomID.
func (r *Registry) IsMember(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[userID][roomID] > 0
}

func (r *Registry) Connections(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast queues e on every connection of roomID for which skip returns
// false. It never blocks: connections whose buffer is full are handed to
// the overflow handler after the registry lock is released. It returns the
// number of connections the event was queued on.
func (r *Registry) Broadcast(roomID string, e proto.Event, skip func(*Connection) bool) int {
	data, err := proto.Marshal(e)
	if err != nil {
		r.logger.Error("broadcast", slog.String("room", roomID), slog.String("err", err.Error()))
		return 0
	}

	var overflowed []*Connection
	delivered := 0

	r.mu.RLock()
	for _, c := range r.rooms[roomID] {
		if skip != nil && skip(c) {
			continue
		}
		if c.Closed() {
			continue
		}
		if c.enqueue(data) {
			delivered++
		} else {
			overflowed = append(overflowed, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range overflowed {
		c.logger.Warn("send buffer full, disconnecting")
		r.onOverflow(c)
	}
	return delivered
}

// ExceptConn skips the connection with the given id.
func ExceptConn(id string) func(*Connection) bool {
	return func(c *Connection) bool {
		return id != "" && c.ID == id
	}
}
