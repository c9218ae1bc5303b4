package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/chatbot/internal/config"
	"github.com/flemzord/chatbot/internal/core"
	"github.com/flemzord/chatbot/internal/dispatch"
	"github.com/flemzord/chatbot/internal/security"

	_ "github.com/flemzord/chatbot/internal/cron"
	_ "github.com/flemzord/chatbot/internal/gateway"
	_ "github.com/flemzord/chatbot/modules/persist/sqlite"
)

// syncBuffer is a bytes.Buffer safe for the log handler and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const offlineConfig = `version: "1"
assistant:
  endpoint: ""
  api_key: plain-secret-one
modules: {}
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "chatbot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func build(t *testing.T, params Params) (*Runtime, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	params.LogOutput = logs
	if params.DataDir == "" {
		params.DataDir = t.TempDir()
	}
	rt, err := Build(context.Background(), params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt, logs
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	redactor := security.NewRedactor()
	redactor.AddLiteral("hunter2-literal")

	var buf bytes.Buffer
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf, redactor)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("login", "password", "hunter2-literal")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	if record["password"] != security.RedactPlaceholder {
		t.Errorf("password = %v, want redacted", record["password"])
	}
}

func TestNewLogger_Errors(t *testing.T) {
	t.Parallel()

	tests := []config.LoggingConfig{
		{Level: "loud"},
		{Format: "xml"},
	}
	for _, cfg := range tests {
		if _, err := NewLogger(cfg, &bytes.Buffer{}, nil); err == nil {
			t.Errorf("NewLogger(%+v): expected error", cfg)
		}
	}
}

func TestBuild_OfflineInMemory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rt, logs := build(t, Params{ConfigPath: writeConfig(t, dir, offlineConfig), Version: "test"})

	if len(rt.Modules()) != 0 {
		t.Errorf("Modules() = %v, want none", rt.Modules())
	}
	if !strings.Contains(logs.String(), "transcript lives in memory only") {
		t.Error("expected a warning about missing persistence")
	}

	res, err := rt.Engine.Dispatch(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != dispatch.OutcomeLocal {
		t.Errorf("Outcome = %q, want local", res.Outcome)
	}

	rt.Logger.Info("secret check", "key", "plain-secret-one")
	if strings.Contains(logs.String(), "plain-secret-one") {
		t.Error("API key leaked into the log")
	}
}

func TestBuild_PersistsTranscript(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `version: "1"
assistant:
  endpoint: ""
modules:
  persist.sqlite: {}
`)

	first, _ := build(t, Params{ConfigPath: path, DataDir: dir})
	if !slices.Equal(first.Modules(), []core.ModuleID{"persist.sqlite"}) {
		t.Fatalf("Modules() = %v", first.Modules())
	}
	if err := first.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := first.Engine.Dispatch(context.Background(), "remember me"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	first.Close()

	second, _ := build(t, Params{ConfigPath: path, DataDir: dir})
	turns := second.Engine.Transcript(0)
	if len(turns) != 2 || turns[0].Content != "remember me" {
		t.Errorf("restored transcript = %+v", turns)
	}
	if _, err := os.Stat(filepath.Join(dir, "chatbot.db")); err != nil {
		t.Errorf("database file: %v", err)
	}
}

func TestBuild_ModuleFilter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `version: "1"
assistant:
  endpoint: ""
modules:
  persist.sqlite: {}
  gateway.http:
    bind: "127.0.0.1:0"
  probe.cron: {}
`)

	all, _ := build(t, Params{ConfigPath: path, DataDir: t.TempDir()})
	want := []core.ModuleID{"persist.sqlite", "gateway.http", "probe.cron"}
	if !slices.Equal(all.Modules(), want) {
		t.Errorf("Modules() = %v, want %v", all.Modules(), want)
	}

	only, _ := build(t, Params{ConfigPath: path, DataDir: t.TempDir(), Modules: PersistenceOnly})
	if !slices.Equal(only.Modules(), []core.ModuleID{"persist.sqlite"}) {
		t.Errorf("Modules() = %v, want persistence only", only.Modules())
	}
}

func TestBuild_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad method":     "version: \"1\"\nassistant:\n  method: PATCH\nmodules: {}\n",
		"unknown module": "version: \"1\"\nmodules:\n  nope.nope: {}\n",
		"bad yaml":       "version: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, t.TempDir(), content)
			if _, err := Build(context.Background(), Params{ConfigPath: path, LogOutput: &bytes.Buffer{}}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRuntime_Reload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, offlineConfig)
	rt, logs := build(t, Params{ConfigPath: path})

	writeConfig(t, dir, `version: "1"
assistant:
  endpoint: ""
  model: reloaded
  api_key: plain-secret-two
modules: {}
`)
	if err := rt.Reload(context.Background(), rt.ReloadHandler()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := rt.Engine.Configuration().Model; got != "reloaded" {
		t.Errorf("Model = %q, want reloaded", got)
	}

	rt.Logger.Info("secret check", "key", "plain-secret-two")
	if strings.Contains(logs.String(), "plain-secret-two") {
		t.Error("reloaded API key leaked into the log")
	}
}

func TestRuntime_SaveAssistant(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, offlineConfig)
	rt, _ := build(t, Params{ConfigPath: path})

	cfg := rt.Engine.Configuration()
	cfg.Model = "saved-model"
	if err := rt.SaveAssistant(cfg); err != nil {
		t.Fatalf("SaveAssistant: %v", err)
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Assistant.Model != "saved-model" {
		t.Errorf("saved model = %q", loaded.Assistant.Model)
	}
}

func TestRuntime_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), offlineConfig)
	rt, _ := build(t, Params{ConfigPath: path})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != filepath.Join("/custom/data", "chatbot") {
		t.Errorf("DefaultDataDir() = %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := DefaultDataDir(); got != filepath.Join(home, ".local", "share", "chatbot") {
		t.Errorf("DefaultDataDir() = %q", got)
	}
}
