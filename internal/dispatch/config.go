package dispatch

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"strings"
	"time"
)

// Method is the HTTP method used to reach the completion endpoint.
type Method string

// Supported methods.
const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// Valid reports whether m is GET or POST.
func (m Method) Valid() bool {
	return m == MethodGet || m == MethodPost
}

// Opposite returns the other supported method.
func (m Method) Opposite() Method {
	if m == MethodPost {
		return MethodGet
	}
	return MethodPost
}

// Defaults used by DefaultConfig.
const (
	DefaultEndpoint      = "/api/chat"
	DefaultOrigin        = "http://localhost:8080"
	DefaultModel         = "gpt-3.5-turbo"
	DefaultSystemPrompt  = "You are an AI assistant specialized in helping with coding problems. Provide clear, concise code examples and explanations."
	DefaultTemperature   = 0.7
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 2 * time.Second
	DefaultJitter        = time.Second
	DefaultHistoryWindow = 10
	DefaultMaxHistory    = 20
	DefaultTimeout       = 30 * time.Second

	maxRetriesLimit = 10
)

// Config describes how the engine reaches its backend. A Config is copied at
// the start of each dispatch, so changes apply to the next dispatch only.
type Config struct {
	Endpoint      string            `yaml:"endpoint"`
	Method        Method            `yaml:"method"`
	Model         string            `yaml:"model"`
	SystemPrompt  string            `yaml:"system_prompt"`
	Temperature   float64           `yaml:"temperature"`
	MaxRetries    int               `yaml:"max_retries"`
	RetryDelay    time.Duration     `yaml:"retry_delay"`
	Jitter        time.Duration     `yaml:"jitter"`
	AllowFallback bool              `yaml:"allow_fallback"`
	Origin        string            `yaml:"origin"`
	ProxyURL      string            `yaml:"proxy_url"`
	HistoryWindow int               `yaml:"history_window"`
	MaxHistory    int               `yaml:"max_history"`
	Timeout       time.Duration     `yaml:"timeout"`
	APIKey        string            `yaml:"api_key"`
	APIKeyEnv     string            `yaml:"api_key_env"`
	Headers       map[string]string `yaml:"headers"`
}

// DefaultConfig returns the out-of-the-box configuration. Decode user
// configuration on top of it so that omitted fields keep their defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:      DefaultEndpoint,
		Method:        MethodGet,
		Model:         DefaultModel,
		SystemPrompt:  DefaultSystemPrompt,
		Temperature:   DefaultTemperature,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		Jitter:        DefaultJitter,
		AllowFallback: true,
		Origin:        DefaultOrigin,
		HistoryWindow: DefaultHistoryWindow,
		MaxHistory:    DefaultMaxHistory,
		Timeout:       DefaultTimeout,
	}
}

// defaults fills fields whose zero value is never meaningful.
func (c *Config) defaults() {
	c.Method = Method(strings.ToUpper(strings.TrimSpace(string(c.Method))))
	if c.Method == "" {
		c.Method = MethodGet
	}
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Origin == "" {
		c.Origin = DefaultOrigin
	}
	c.Origin = strings.TrimRight(c.Origin, "/")
	if c.HistoryWindow == 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error

	if !c.Method.Valid() {
		errs = append(errs, fmt.Errorf("method must be GET or POST, got %q", c.Method))
	}
	if c.Endpoint == "" && !c.AllowFallback {
		errs = append(errs, errors.New("endpoint is required when allow_fallback is disabled"))
	}
	if c.Endpoint != "" {
		if _, err := url.Parse(c.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("endpoint is not a valid URL: %w", err))
		}
	}
	if err := validateAbsolute("origin", c.Origin); err != nil {
		errs = append(errs, err)
	}
	if c.ProxyURL != "" {
		if err := validateAbsolute("proxy_url", c.ProxyURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2, got %g", c.Temperature))
	}
	if c.MaxRetries < 0 || c.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("max_retries must be between 0 and %d, got %d", maxRetriesLimit, c.MaxRetries))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry_delay must not be negative"))
	}
	if c.Jitter < 0 {
		errs = append(errs, errors.New("jitter must not be negative"))
	}
	if c.HistoryWindow < 0 {
		errs = append(errs, errors.New("history_window must not be negative"))
	}
	if c.MaxHistory < 2 {
		errs = append(errs, fmt.Errorf("max_history must be at least 2, got %d", c.MaxHistory))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Normalized returns c with defaults applied.
func (c Config) Normalized() Config {
	c.Headers = maps.Clone(c.Headers)
	c.defaults()
	return c
}

// ResolveAPIKey returns the configured key, reading APIKeyEnv when the key
// itself is empty.
func (c Config) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

// Redacted returns a copy safe to show to users.
func (c Config) Redacted() Config {
	c.Headers = maps.Clone(c.Headers)
	if c.APIKey != "" {
		c.APIKey = "[REDACTED]"
	}
	for k := range c.Headers {
		if strings.EqualFold(k, "Authorization") {
			c.Headers[k] = "[REDACTED]"
		}
	}
	return c
}

func validateAbsolute(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}
