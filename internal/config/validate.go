package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/flemzord/chatbot/internal/core"
)

// Validate checks the structural validity of a Config: the schema version,
// that every module ID is registered, the assistant section, logging and
// telemetry. All problems are reported at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: %q)", cfg.Version, CurrentVersion))
	}

	for _, id := range Resolve(cfg) {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	if err := cfg.Assistant.Normalized().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: assistant: %w", err))
	}

	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: logging.format must be text or json, got %q", cfg.Logging.Format))
	}

	if ep := cfg.Telemetry.OTLPEndpoint; ep != "" {
		if u, err := url.Parse(ep); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: telemetry.otlp_endpoint %q is not an absolute URL", ep))
		}
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_ratio must be between 0 and 1, got %g", r))
	}

	return errors.Join(errs...)
}

// ParseLevel converts a logging.level value to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: logging.level: %w", err)
	}
	return level, nil
}
