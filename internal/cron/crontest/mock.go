// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	calls atomic.Int32
}

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.calls.Add(1)
	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	return int(m.calls.Load())
}

// MockProber is a test double for cron.Prober. It records the deadline of
// every probe context.
type MockProber struct {
	Err error

	mu        sync.Mutex
	calls     int
	deadlines []bool
	probed    chan struct{}
}

// Probe implements cron.Prober.
func (m *MockProber) Probe(ctx context.Context) error {
	_, hasDeadline := ctx.Deadline()
	m.mu.Lock()
	m.calls++
	m.deadlines = append(m.deadlines, hasDeadline)
	ch := m.probed
	m.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return m.Err
}

// Calls returns the number of probes.
func (m *MockProber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// AllBounded reports whether every probe ran with a deadline.
func (m *MockProber) AllBounded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deadlines {
		if !d {
			return false
		}
	}
	return true
}

// Probed returns a channel that receives after each probe.
func (m *MockProber) Probed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probed == nil {
		m.probed = make(chan struct{}, 8)
	}
	return m.probed
}
