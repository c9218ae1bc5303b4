// Package config loads, validates and saves the chatbot configuration file.
package config

import (
	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/dispatch"
	"github.com/flemzord/chatbot/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only supported schema version.
const CurrentVersion = "1"

// Config is the root configuration structure.
type Config struct {
	Version string `yaml:"version"`

	// DataDir overrides the default data directory.
	DataDir string `yaml:"data_dir,omitempty"`

	// Assistant is the engine configuration the settings form edits.
	Assistant dispatch.Config `yaml:"assistant"`

	History   HistoryConfig           `yaml:"history"`
	Logging   LoggingConfig           `yaml:"logging"`
	Telemetry telemetry.TracingConfig `yaml:"telemetry"`

	// Modules maps module IDs to their raw YAML configuration.
	Modules map[string]yaml.Node `yaml:"modules"`
}

// HistoryConfig controls where the transcript is persisted.
type HistoryConfig struct {
	// Key is the persistence key of the transcript.
	Key string `yaml:"key"`
}

// LoggingConfig controls the application log handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// defaultModules is the module set used when the file names none.
const defaultModules = `
persist.sqlite: {}
gateway.http: {}
probe.cron: {}
`

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version:   CurrentVersion,
		Assistant: dispatch.DefaultConfig(),
		History:   HistoryConfig{Key: conversation.DefaultKey},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Telemetry: telemetry.TracingConfig{ServiceName: telemetry.DefaultServiceName},
		Modules:   DefaultModules(),
	}
}

// DefaultModules returns fresh YAML nodes for the default module set.
func DefaultModules() map[string]yaml.Node {
	var modules map[string]yaml.Node
	if err := yaml.Unmarshal([]byte(defaultModules), &modules); err != nil {
		panic("config: invalid default modules: " + err.Error())
	}
	return modules
}
