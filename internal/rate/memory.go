// Package rate throttles inbound events per account.
package rate

import (
	"sync"
	"time"
)

type bucket struct {
	count int
	start time.Time
}

// Limiter is a fixed-window counter keyed by account id. A limit of zero or
// less disables it.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[int64]bucket
	lastGC  time.Time
	now     func() time.Time
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: map[int64]bucket{},
		lastGC:  time.Now().UTC(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *Limiter) Allow(account int64) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastGC) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.start) > 3*l.window {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}
	b, ok := l.buckets[account]
	if !ok || now.Sub(b.start) >= l.window {
		l.buckets[account] = bucket{count: 1, start: now}
		return true
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	l.buckets[account] = b
	return true
}

// Tracked reports how many accounts currently hold a bucket.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
