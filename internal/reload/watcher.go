// Package reload re-applies the configuration file while the chatbot runs,
// driven by file polling or SIGHUP.
package reload

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the file to watch. It may not exist yet.
	ConfigPath string

	// PollInterval is how often the file is checked. Defaults to 5 seconds.
	PollInterval time.Duration
}

// Event reports that the watched file changed.
type Event struct {
	ConfigPath string
}

// Watcher polls a configuration file and emits an Event when its content
// changes. Comparing content rather than modification time catches edits
// made within the file system's timestamp resolution and ignores touches.
// Events are coalesced: at most one is pending at a time.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	started   bool
}

// NewWatcher creates a watcher. Nothing happens until Start.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling. Calls after the first are no-ops.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.mu.Lock()
		w.started = true
		w.mu.Unlock()
		initial := fingerprint(w.cfg.ConfigPath)
		go w.poll(ctx, initial)
	})
}

// Events returns the channel of change notifications.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop ends polling and waits for the goroutine to exit. Safe to call
// multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context, last [sha256.Size]byte) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			current := fingerprint(w.cfg.ConfigPath)
			if current == ([sha256.Size]byte{}) || current == last {
				// Missing or unreadable files keep the last known content,
				// so a save through a temporary file is not seen twice.
				continue
			}
			last = current
			select {
			case w.events <- Event{ConfigPath: w.cfg.ConfigPath}:
			default:
			}
		}
	}
}

// fingerprint hashes the file content. It returns the zero array when the
// file cannot be read.
func fingerprint(path string) [sha256.Size]byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(data)
}
