package core

import (
	"sync"
	"time"
)

// RateLimitBucket is a fixed window counter.
type RateLimitBucket struct {
	WindowStart time.Time
	Count       int
}

// RateLimitResult describes the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// RetryAfter is the time left until the window resets.
func (r RateLimitResult) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RateLimiter enforces at most max events per key within a fixed window.
// A bucket resets once now is past windowStart + window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*RateLimitBucket
	max     int
	window  time.Duration
	now     func() time.Time
}

type RateLimiterOption func(*RateLimiter)

// WithLimiterClock replaces the limiter's time source.
func WithLimiterClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		l.now = now
	}
}

func NewRateLimiter(max int, window time.Duration, opts ...RateLimiterOption) *RateLimiter {
	l := &RateLimiter{
		buckets: make(map[string]*RateLimitBucket),
		max:     max,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one event for key. A rejected event does not count.
func (l *RateLimiter) Allow(key string) RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.After(b.WindowStart.Add(l.window)) {
		b = &RateLimitBucket{WindowStart: now}
		l.buckets[key] = b
	}

	res := RateLimitResult{
		Limit:   l.max,
		ResetAt: b.WindowStart.Add(l.window),
	}
	if b.Count >= l.max {
		return res
	}
	b.Count++
	res.Allowed = true
	res.Remaining = l.max - b.Count
	return res
}

// Forget drops the bucket for key.
func (l *RateLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Prune removes buckets whose window has ended and returns how many were removed.
func (l *RateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for k, b := range l.buckets {
		if now.After(b.WindowStart.Add(l.window)) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}
