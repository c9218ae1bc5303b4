package gateway

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Defaults for zero-valued Config fields. Writes get a long deadline
// because POST /api/messages waits for a whole dispatch, retries included.
const (
	DefaultBind            = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 2 * time.Minute
	DefaultShutdownTimeout = 5 * time.Second
)

// Config is the gateway.http block of the configuration file.
type Config struct {
	Bind            string        `yaml:"bind"`
	Auth            AuthConfig    `yaml:"auth"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MessagesPerMin int `yaml:"messages_per_min"` // per client address
	MaxBodySize    int `yaml:"max_body_size"`    // bytes; 0 uses the security default

	// PersistConfig writes accepted PUT /api/config bodies back to the
	// configuration file. Nil means true.
	PersistConfig *bool `yaml:"persist_config"`
}

func (c *Config) defaults() {
	setDefault(&c.Bind, DefaultBind)
	setDefault(&c.ReadTimeout, DefaultReadTimeout)
	setDefault(&c.WriteTimeout, DefaultWriteTimeout)
	setDefault(&c.ShutdownTimeout, DefaultShutdownTimeout)
	if c.PersistConfig == nil {
		persist := true
		c.PersistConfig = &persist
	}
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// check reports every problem with a defaulted Config at once.
func (c *Config) check() error {
	var errs []error
	if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
		errs = append(errs, fmt.Errorf("gateway: invalid bind address %q: %w", c.Bind, err))
	}
	if c.MaxBodySize < 0 {
		errs = append(errs, errors.New("gateway: max_body_size must not be negative"))
	}
	if c.MessagesPerMin < 0 {
		errs = append(errs, errors.New("gateway: messages_per_min must not be negative"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("gateway: timeouts must not be negative"))
	}
	if (c.Auth.BasicUser == "") != (c.Auth.BasicPass == "") {
		errs = append(errs, errors.New("gateway: auth needs both basic_user and basic_pass"))
	}
	return errors.Join(errs...)
}

// AuthConfig protects /api and /ws. Either a bearer token or a basic
// user and password pair enables it.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured reports whether any auth method is set.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
