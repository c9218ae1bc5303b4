package dispatch

import (
	"sync"
	"time"
)

// HealthState is the observed availability of the backend.
type HealthState int

const (
	StateHealthy  HealthState = iota
	StateDegraded             // recent failures, still trying
	StateOffline              // too many consecutive failures
)

// String returns a human-readable label for the health state.
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// DefaultMaxFailures is the number of consecutive failures after which the
// backend is reported offline.
const DefaultMaxFailures = 5

// Health is a snapshot of the backend tracker.
type Health struct {
	State     HealthState
	Failures  int
	LastError string
	Since     time.Time
}

// healthTracker follows consecutive attempt and probe outcomes.
type healthTracker struct {
	maxFailures int

	// onStateChange is called outside the lock whenever the state
	// transitions. It keeps the tracker decoupled from logging.
	onStateChange func(from, to HealthState)

	mu        sync.Mutex
	state     HealthState
	failures  int
	lastError string
	since     time.Time

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

func newHealthTracker(maxFailures int) *healthTracker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return &healthTracker{
		maxFailures: maxFailures,
		state:       StateHealthy,
		since:       time.Now(),
		now:         time.Now,
	}
}

// RecordSuccess resets the tracker to healthy.
func (h *healthTracker) RecordSuccess() {
	h.mu.Lock()
	prev := h.state
	h.state = StateHealthy
	h.failures = 0
	h.lastError = ""
	if prev != StateHealthy {
		h.since = h.now()
	}
	h.mu.Unlock()

	if prev != StateHealthy && h.onStateChange != nil {
		h.onStateChange(prev, StateHealthy)
	}
}

// RecordFailure counts a failed attempt or probe.
func (h *healthTracker) RecordFailure(err error) {
	h.mu.Lock()
	prev := h.state
	h.failures++
	if err != nil {
		h.lastError = err.Error()
	}

	next := StateDegraded
	if h.failures >= h.maxFailures {
		next = StateOffline
	}
	h.state = next
	if prev != next {
		h.since = h.now()
	}
	h.mu.Unlock()

	if prev != next && h.onStateChange != nil {
		h.onStateChange(prev, next)
	}
}

// Snapshot returns the current state.
func (h *healthTracker) Snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Health{
		State:     h.state,
		Failures:  h.failures,
		LastError: h.lastError,
		Since:     h.since,
	}
}
