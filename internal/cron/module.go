package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/chatbot/internal/core"
)

func init() {
	core.RegisterModule(&ProbeModule{})
}

// ProbeConfig configures the probe.cron module.
type ProbeConfig struct {
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`

	// OnStart probes once as soon as the module starts. Defaults to true.
	OnStart *bool `yaml:"on_start"`
}

func (c *ProbeConfig) defaults() {
	if c.Schedule == "" {
		c.Schedule = DefaultProbeSchedule
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultProbeTimeout
	}
	if c.OnStart == nil {
		on := true
		c.OnStart = &on
	}
}

// ProbeModule probes the completion backend on a schedule so the health
// endpoint and presenters reflect connectivity between messages.
type ProbeModule struct {
	config    ProbeConfig
	appCtx    *core.AppContext
	logger    *slog.Logger
	scheduler *Scheduler
	job       *ProbeJob
}

// ModuleInfo implements core.Module.
func (m *ProbeModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "probe.cron",
		New: func() core.Module { return &ProbeModule{} },
	}
}

// Configure implements core.Configurable.
func (m *ProbeModule) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *ProbeModule) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.scheduler = NewScheduler(m.logger)
	return nil
}

// Validate implements core.Validator.
func (m *ProbeModule) Validate() error {
	if err := ParseSchedule(m.config.Schedule); err != nil {
		return fmt.Errorf("probe: invalid schedule %q: %w", m.config.Schedule, err)
	}
	return nil
}

// Start implements core.Starter. The engine is resolved here because it is
// created after every module is provisioned.
func (m *ProbeModule) Start() error {
	prober, err := core.Service[Prober](m.appCtx, core.ServiceEngine)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	m.job = &ProbeJob{
		Prober:       prober,
		Logger:       m.logger,
		Timeout:      m.config.Timeout,
		ScheduleExpr: m.config.Schedule,
	}
	if err := m.scheduler.RegisterJob(m.job); err != nil {
		return err
	}
	if err := m.scheduler.Start(); err != nil {
		return err
	}

	if *m.config.OnStart {
		go func() {
			err := m.scheduler.RunNow(m.job.Name())
			if err != nil && !errors.Is(err, ErrJobRunning) {
				m.logger.Warn("probe: backend not reachable at startup", "error", err)
			}
		}()
	}
	return nil
}

// Stop implements core.Stopper.
func (m *ProbeModule) Stop(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}
