package endpoint

import (
	"sync"
	"time"
)

type rateEntry struct {
	count       int
	windowStart time.Time
}

// RateLimiter applies fixed-window admission control per client
// identity. Entries are created lazily on first sight of an identity
// and replaced when their window elapses; denial never extends or
// penalizes the window.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	max     int
	window  time.Duration
}

// NewRateLimiter creates a limiter allowing max requests per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateEntry),
		max:     max,
		window:  window,
	}
}

// Allow reports whether a request from the given client identity is
// within the current window's budget.
func (l *RateLimiter) Allow(clientID string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[clientID]
	if !ok || now.Sub(entry.windowStart) >= l.window {
		l.entries[clientID] = &rateEntry{count: 1, windowStart: now}
		return true
	}

	entry.count++
	return entry.count <= l.max
}

// Len returns the number of tracked client identities.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// reset drops all tracked entries.
func (l *RateLimiter) reset() {
	l.mu.Lock()
	l.entries = make(map[string]*rateEntry)
	l.mu.Unlock()
}
