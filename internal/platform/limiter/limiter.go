// Package limiter implements the per-user fixed-window request limiter that
// gates both ingestion and query endpoints. Counts live in process memory and
// reset on restart; the limit is advisory, not a security boundary.
package limiter

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	users  map[string]*window

	// now is swapped for a fake clock in tests.
	now func() time.Time
}

func New(limit int, windowSize time.Duration) *Limiter {
	if limit <= 0 {
		limit = 60
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	return &Limiter{
		limit:  limit,
		window: windowSize,
		users:  make(map[string]*window),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow records one request for userID and reports whether it fits in the
// current window. The first request past the window boundary resets the count.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	w, ok := l.users[userID]
	if !ok || ts.Sub(w.start) >= l.window {
		l.users[userID] = &window{start: ts, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Remaining reports how many requests userID has left in the current window.
func (l *Limiter) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users[userID]
	if !ok || l.now().Sub(w.start) >= l.window {
		return l.limit
	}
	if w.count >= l.limit {
		return 0
	}
	return l.limit - w.count
}
