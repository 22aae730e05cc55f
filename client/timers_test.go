package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	base := 500 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, base},
		{1, base},
		{2, time.Second},
		{3, 2 * time.Second},
		{5, 8 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(base, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestTimerSet(t *testing.T) {
	clock := newFakeClock()
	s := newTimerSet(clock)

	var fired []string
	record := func(name string) func() {
		return func() { fired = append(fired, name) }
	}

	require.True(t, s.Schedule("a", time.Second, record("a")))
	require.True(t, s.Schedule("ack:1", 2*time.Second, record("ack:1")))
	require.True(t, s.Schedule("ack:2", 2*time.Second, record("ack:2")))
	assert.Equal(t, 3, s.Len())

	// rescheduling replaces the pending timer
	require.True(t, s.Schedule("a", 3*time.Second, record("a2")))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, clock.Pending())

	s.CancelPrefix("ack:")
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.Pending("ack:1"))

	clock.Advance(2 * time.Second)
	assert.Empty(t, fired)
	clock.Advance(time.Second)
	assert.Equal(t, []string{"a2"}, fired)
	assert.Equal(t, 0, s.Len())

	s.Schedule("b", time.Second, record("b"))
	s.Cancel("b")
	clock.Advance(time.Minute)
	assert.Equal(t, []string{"a2"}, fired)
}

func TestTimerSetStopAll(t *testing.T) {
	clock := newFakeClock()
	s := newTimerSet(clock)

	s.Schedule("a", time.Second, func() { t.Error("fired after StopAll") })
	s.Schedule("b", time.Hour, func() { t.Error("fired after StopAll") })
	s.StopAll()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, clock.Pending())
	assert.False(t, s.Schedule("c", time.Second, func() {}))
	clock.Advance(2 * time.Hour)
}
