package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Prober is the subset of the dispatch engine the probe job needs.
type Prober interface {
	Probe(ctx context.Context) error
}

// Probe job defaults.
const (
	DefaultProbeSchedule = "@every 5m"
	DefaultProbeTimeout  = 10 * time.Second
)

// ProbeJob checks that the completion backend answers. The engine reports
// the result to its presenter and health tracker.
type ProbeJob struct {
	Prober       Prober
	Logger       *slog.Logger
	Timeout      time.Duration // zero = DefaultProbeTimeout
	ScheduleExpr string        // empty = DefaultProbeSchedule
}

var _ Job = (*ProbeJob)(nil)

// Name implements Job.
func (j *ProbeJob) Name() string { return "backend_probe" }

// Schedule implements Job.
func (j *ProbeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultProbeSchedule
}

// Run probes once, bounded by the job timeout.
func (j *ProbeJob) Run(ctx context.Context) error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := j.Prober.Probe(ctx); err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if j.Logger != nil {
		j.Logger.Debug("cron: backend reachable")
	}
	return nil
}
