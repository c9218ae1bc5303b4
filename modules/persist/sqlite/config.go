package sqlite

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Journal modes accepted in the module configuration.
const (
	JournalWAL      = "wal"
	JournalDelete   = "delete"
	JournalTruncate = "truncate"
)

const (
	defaultDBFile      = "chatbot.db"
	defaultBusyTimeout = 5 * time.Second
)

// Config is the persist.sqlite block of the configuration file.
//
//	modules:
//	  persist.sqlite:
//	    path: /var/lib/chatbot/chatbot.db
//	    journal: wal
//	    busy_timeout: 5s
type Config struct {
	Path        string        `yaml:"path"`
	Journal     string        `yaml:"journal"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// resolve fills empty fields; a relative or empty path lands in dataDir.
func (c Config) resolve(dataDir string) Config {
	switch {
	case c.Path == "":
		c.Path = filepath.Join(dataDir, defaultDBFile)
	case !filepath.IsAbs(c.Path) && dataDir != "":
		c.Path = filepath.Join(dataDir, c.Path)
	}
	c.Journal = strings.ToLower(strings.TrimSpace(c.Journal))
	if c.Journal == "" {
		c.Journal = JournalWAL
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	return c
}

func (c Config) check() error {
	switch c.Journal {
	case JournalWAL, JournalDelete, JournalTruncate:
	default:
		return fmt.Errorf("sqlite: journal must be one of wal, delete, truncate; got %q", c.Journal)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must not be negative, got %s", c.BusyTimeout)
	}
	return nil
}

// pragmas lists the statements run on every new database handle.
func (c Config) pragmas() []string {
	return []string{
		"PRAGMA journal_mode=" + strings.ToUpper(c.Journal),
		fmt.Sprintf("PRAGMA busy_timeout=%d", c.BusyTimeout.Milliseconds()),
	}
}
