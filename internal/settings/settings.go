// Package settings edits the assistant configuration through an
// interactive terminal form.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/chatbot/internal/dispatch"
)

// ErrAborted is returned when the user leaves the form without saving.
var ErrAborted = errors.New("settings: aborted")

// Values holds the editable fields as the form sees them. Numbers and
// durations stay strings until Apply parses them.
type Values struct {
	Endpoint      string
	Method        string
	Model         string
	SystemPrompt  string
	Temperature   string
	MaxRetries    string
	RetryDelay    string
	MaxHistory    string
	AllowFallback bool

	// APIKey is left empty by FromConfig. Empty keeps the current key.
	APIKey string
}

// FromConfig returns the form values for cfg.
func FromConfig(cfg dispatch.Config) Values {
	cfg = cfg.Normalized()
	return Values{
		Endpoint:      cfg.Endpoint,
		Method:        string(cfg.Method),
		Model:         cfg.Model,
		SystemPrompt:  cfg.SystemPrompt,
		Temperature:   strconv.FormatFloat(cfg.Temperature, 'g', -1, 64),
		MaxRetries:    strconv.Itoa(cfg.MaxRetries),
		RetryDelay:    cfg.RetryDelay.String(),
		MaxHistory:    strconv.Itoa(cfg.MaxHistory),
		AllowFallback: cfg.AllowFallback,
	}
}

// Apply returns base with v applied. Fields the form does not show keep
// their base value. The result is validated.
func (v Values) Apply(base dispatch.Config) (dispatch.Config, error) {
	cfg := base
	cfg.Endpoint = strings.TrimSpace(v.Endpoint)
	cfg.Method = dispatch.Method(v.Method)
	cfg.Model = strings.TrimSpace(v.Model)
	cfg.SystemPrompt = v.SystemPrompt
	cfg.AllowFallback = v.AllowFallback
	if key := strings.TrimSpace(v.APIKey); key != "" {
		cfg.APIKey = key
	}

	var errs []error
	if t, err := strconv.ParseFloat(strings.TrimSpace(v.Temperature), 64); err != nil {
		errs = append(errs, fmt.Errorf("temperature: %w", err))
	} else {
		cfg.Temperature = t
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v.MaxRetries)); err != nil {
		errs = append(errs, fmt.Errorf("max retries: %w", err))
	} else {
		cfg.MaxRetries = n
	}
	if d, err := time.ParseDuration(strings.TrimSpace(v.RetryDelay)); err != nil {
		errs = append(errs, fmt.Errorf("retry delay: %w", err))
	} else {
		cfg.RetryDelay = d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v.MaxHistory)); err != nil {
		errs = append(errs, fmt.Errorf("max history: %w", err))
	} else {
		cfg.MaxHistory = n
	}
	if len(errs) > 0 {
		return base, errors.Join(errs...)
	}

	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// NewForm builds the settings form bound to v.
func NewForm(v *Values) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Endpoint").
				Description("Absolute URL, or a path relative to the origin. Empty answers locally.").
				Value(&v.Endpoint),
			huh.NewSelect[string]().
				Title("Method").
				Options(huh.NewOptions(string(dispatch.MethodGet), string(dispatch.MethodPost))...).
				Value(&v.Method),
			huh.NewInput().
				Title("API key").
				Description("Leave empty to keep the current key.").
				EchoMode(huh.EchoModePassword).
				Value(&v.APIKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Model").
				Value(&v.Model),
			huh.NewText().
				Title("System prompt").
				Value(&v.SystemPrompt),
			huh.NewInput().
				Title("Temperature").
				Validate(validateFloat).
				Value(&v.Temperature),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Max retries").
				Validate(validateInt).
				Value(&v.MaxRetries),
			huh.NewInput().
				Title("Retry delay").
				Validate(validateDuration).
				Value(&v.RetryDelay),
			huh.NewInput().
				Title("Max history turns").
				Validate(validateInt).
				Value(&v.MaxHistory),
			huh.NewConfirm().
				Title("Answer locally when the backend is unreachable?").
				Value(&v.AllowFallback),
		),
	).WithTheme(huh.ThemeCharm())
}

// Edit runs the form over cfg and returns the edited configuration.
// It returns ErrAborted when the user cancels.
func Edit(ctx context.Context, cfg dispatch.Config) (dispatch.Config, error) {
	v := FromConfig(cfg)
	if err := NewForm(&v).RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return cfg, ErrAborted
		}
		return cfg, fmt.Errorf("settings: %w", err)
	}
	return v.Apply(cfg)
}

func validateFloat(s string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return errors.New("must be a number")
	}
	return nil
}

func validateInt(s string) error {
	if _, err := strconv.Atoi(strings.TrimSpace(s)); err != nil {
		return errors.New("must be a whole number")
	}
	return nil
}

func validateDuration(s string) error {
	if _, err := time.ParseDuration(strings.TrimSpace(s)); err != nil {
		return errors.New("must be a duration such as 2s or 500ms")
	}
	return nil
}
