package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a key exceeds its limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultMessagesPerMin is used when a limiter is created with a zero limit.
const DefaultMessagesPerMin = 30

// RateLimiter is a sliding window limiter keyed by caller, for example the
// client address of a gateway request.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	buckets map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter allows limit events per key per minute.
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultMessagesPerMin
	}
	return &RateLimiter{
		window:  time.Minute,
		limit:   limit,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records an event for key, or returns ErrRateLimited when the key
// already used its budget for the current window.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	events := evict(rl.buckets[key], now.Add(-rl.window))
	if len(events) >= rl.limit {
		rl.buckets[key] = events
		return ErrRateLimited
	}
	rl.buckets[key] = append(events, now)

	// Drop idle keys so the map does not grow with every client seen.
	if len(rl.buckets) > 1024 {
		for k, ev := range rl.buckets {
			if len(evict(ev, now.Add(-rl.window))) == 0 {
				delete(rl.buckets, k)
			}
		}
	}
	return nil
}

// Limit returns the number of events allowed per window.
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// evict drops events older than cutoff. Events are chronological.
func evict(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	return events[i:]
}
