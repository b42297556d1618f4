package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ownerLimiter applies a token bucket per owner, path, and method. Buckets
// refill at requests-per-window and allow a full window as burst, so a quiet
// owner can issue its whole allowance at once.
type ownerLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	lastSeen map[string]time.Time
}

func newOwnerLimiter(cfg RateLimitConfig) *ownerLimiter {
	return &ownerLimiter{
		buckets:  make(map[string]*rate.Limiter),
		limit:    rate.Every(cfg.Window / time.Duration(cfg.Requests)),
		burst:    cfg.Requests,
		lastSeen: make(map[string]time.Time),
	}
}

// allow consumes one token for the key. When the bucket is empty it returns
// false plus the time the next token becomes available.
func (l *ownerLimiter) allow(key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.lastSeen[key] = now
	l.evictStale(now)

	bucket := l.buckets[key]
	if bucket == nil {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	if bucket.Allow() {
		return true, time.Time{}
	}
	reservation := bucket.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return false, now.Add(delay)
}

// evictStale drops buckets idle for over an hour to bound memory across many
// owners.
func (l *ownerLimiter) evictStale(now time.Time) {
	for key, seen := range l.lastSeen {
		if now.Sub(seen) > time.Hour {
			delete(l.lastSeen, key)
			delete(l.buckets, key)
		}
	}
}
