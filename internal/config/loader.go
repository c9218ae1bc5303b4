package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/flemzord/chatbot/internal/dispatch"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file name looked up in each search directory.
const FileName = "chatbot.yaml"

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// and decodes it on top of Default so omitted fields keep their defaults.
// A file without a modules section gets the default module set.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	cfg := Default()
	cfg.Modules = nil
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.Modules == nil {
		cfg.Modules = DefaultModules()
	}

	return cfg, nil
}

// SearchPaths returns the candidate configuration files in lookup order.
func SearchPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "chatbot", FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "chatbot", FileName))
	}
	return append(paths, FileName)
}

// Find returns the configuration file to use. An explicit path always wins,
// whether or not it exists. Otherwise the first existing search path is
// returned, or false when there is none.
func Find(explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// LoadOrDefault loads the file Find selects, or returns Default when there
// is none. The returned path is where Save should write; it is the first
// search path when no file exists yet.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, ok := Find(explicit)
	if !ok {
		return Default(), SearchPaths()[0], nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	var node yaml.Node
	if err := node.Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	return writeDocument(path, &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{&node}})
}

// UpdateAssistant replaces the assistant section of the file at path and
// leaves every other section untouched. Values still written as ${VAR}
// references are kept when they expand to the new value, so secrets do not
// end up in the file. A missing file is created from Default.
func UpdateAssistant(path string, assistant dispatch.Config) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		cfg.Assistant = assistant
		return Save(path, cfg)
	}
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config: %s: top level is not a mapping", path)
	}

	var fresh yaml.Node
	if err := fresh.Encode(assistant); err != nil {
		return fmt.Errorf("config: encoding assistant: %w", err)
	}

	if old := mappingValue(root, "assistant"); old != nil {
		keepEnvReferences(old, &fresh)
		*old = fresh
	} else {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "assistant"},
			&fresh,
		)
	}
	return writeDocument(path, &doc)
}

func keepEnvReferences(old, fresh *yaml.Node) {
	if old.Kind != yaml.MappingNode || fresh.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(fresh.Content); i += 2 {
		next := fresh.Content[i+1]
		prev := mappingValue(old, fresh.Content[i].Value)
		if prev == nil || prev.Kind != yaml.ScalarNode || next.Kind != yaml.ScalarNode {
			continue
		}
		if !strings.Contains(prev.Value, "${") {
			continue
		}
		expanded, err := expandEnv([]byte(prev.Value))
		if err == nil && string(expanded) == next.Value {
			fresh.Content[i+1] = prev
		}
	}
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func writeDocument(path string, doc *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if subs[2] != nil {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
