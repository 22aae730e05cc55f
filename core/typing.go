package core

import (
	"slices"
	"sync"
	"time"
)

type typingKey struct {
	userID string
	roomID string
}

// TypingSet holds one typing indicator per (user, room). It is process
// local and purged when the user's connection goes away.
type TypingSet struct {
	mu      sync.Mutex
	typists map[typingKey]time.Time
}

func NewTypingSet() *TypingSet {
	return &TypingSet{typists: make(map[typingKey]time.Time)}
}

// Set records the latest typing state for the user and reports whether it
// differs from the previous one.
func (t *TypingSet) Set(userID, roomID string, typing bool, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typingKey{userID, roomID}
	_, was := t.typists[key]
	if typing {
		t.typists[key] = at
	} else {
		delete(t.typists, key)
	}
	return was != typing
}

// Clear removes the indicator and reports whether the user was typing.
func (t *TypingSet) Clear(userID, roomID string) bool {
	return t.Set(userID, roomID, false, time.Time{})
}

// Typing returns the sorted users typing in roomID.
func (t *TypingSet) Typing(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var users []string
	for k := range t.typists {
		if k.roomID == roomID {
			users = append(users, k.userID)
		}
	}
	slices.Sort(users)
	return users
}
