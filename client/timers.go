package client

import (
	"strings"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Clock is the engine's source of time and timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type scheduled struct {
	timer Timer
}

// timerSet owns every timer of an engine under a name. Scheduling a name
// that is already pending replaces it. Once stopped, the set refuses new
// timers, so nothing outlives the engine.
type timerSet struct {
	mu      sync.Mutex
	clock   Clock
	timers  map[string]*scheduled
	stopped bool
}

func newTimerSet(clock Clock) *timerSet {
	return &timerSet{clock: clock, timers: make(map[string]*scheduled)}
}

// Schedule runs f after d under name and reports whether it was scheduled.
func (s *timerSet) Schedule(name string, d time.Duration, f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if prev, ok := s.timers[name]; ok {
		prev.timer.Stop()
	}

	entry := &scheduled{}
	s.timers[name] = entry
	entry.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.timers[name]
		if !ok || current != entry {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.mu.Unlock()
		f()
	})
	return true
}

// Cancel stops the timer under name, if any.
func (s *timerSet) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.timers[name]; ok {
		entry.timer.Stop()
		delete(s.timers, name)
	}
}

// CancelPrefix stops every timer whose name starts with prefix.
func (s *timerSet) CancelPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, entry := range s.timers {
		if strings.HasPrefix(name, prefix) {
			entry.timer.Stop()
			delete(s.timers, name)
		}
	}
}

// Pending reports whether a timer is scheduled under name.
func (s *timerSet) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// StopAll cancels every timer and refuses new ones.
func (s *timerSet) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for name, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, name)
	}
}

func (s *timerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// BackoffDelay is the wait before reconnect attempt n (1-based):
// base doubled for every attempt after the first.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}
