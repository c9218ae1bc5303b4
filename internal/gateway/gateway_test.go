package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/chatbot/internal/config"
	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/core"
	"github.com/flemzord/chatbot/internal/dispatch"
	"github.com/flemzord/chatbot/internal/fallback"
	"github.com/flemzord/chatbot/internal/persist"
	"github.com/flemzord/chatbot/internal/security"
	"github.com/flemzord/chatbot/internal/telemetry"
)

// fakeEngine answers with canned values for the error paths a real engine
// cannot be forced into deterministically.
type fakeEngine struct {
	dispatchErr error
	resetErr    error
	health      dispatch.Health
	cfg         dispatch.Config
}

func (f *fakeEngine) Dispatch(context.Context, string) (dispatch.Result, error) {
	return dispatch.Result{}, f.dispatchErr
}
func (f *fakeEngine) Reset(context.Context) error {
	return f.resetErr
}

func (f *fakeEngine) Transcript(int) []conversation.Turn {
	return nil
}

func (f *fakeEngine) Configuration() dispatch.Config {
	return f.cfg
}

func (f *fakeEngine) ApplyConfiguration(dispatch.Config) error {
	return nil
}

func (f *fakeEngine) Health() dispatch.Health {
	return f.health
}

func (f *fakeEngine) Processing() bool {
	return f.dispatchErr != nil
}

func mustYAMLNode(t *testing.T, s string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	return doc.Content[0]
}

// newOfflineEngine returns an engine with no endpoint, so every message is
// answered locally without network access.
func newOfflineEngine(t *testing.T, mutate func(*dispatch.Config), opts ...dispatch.Option) *dispatch.Engine {
	t.Helper()
	cfg := dispatch.DefaultConfig()
	cfg.Endpoint = ""
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := dispatch.New(conversation.NewStore(persist.NewMemory()), cfg, opts...)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	return e
}

func newTestGateway(t *testing.T, engine Engine, cfg Config) (*Gateway, *httptest.Server) {
	t.Helper()
	return newTestGatewayWithHub(t, engine, cfg, NewHub(nil))
}

func newTestGatewayWithHub(t *testing.T, engine Engine, cfg Config, hub *Hub) (*Gateway, *httptest.Server) {
	t.Helper()
	cfg.defaults()
	g := &Gateway{
		config:    cfg,
		logger:    slog.New(slog.DiscardHandler),
		hub:       hub,
		limiter:   security.NewRateLimiter(cfg.MessagesPerMin),
		engine:    engine,
		startedAt: time.Now(),
	}
	srv := httptest.NewServer(g.buildRouter())
	t.Cleanup(func() {
		g.hub.Close()
		srv.Close()
	})
	return g, srv
}

func do(t *testing.T, method, url, body string, mutate ...func(*http.Request)) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range mutate {
		m(req)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestGateway_ModuleInfo(t *testing.T) {
	t.Parallel()

	info := (&Gateway{}).ModuleInfo()
	if info.ID != "gateway.http" {
		t.Errorf("ID = %q, want %q", info.ID, "gateway.http")
	}
	if _, ok := info.New().(*Gateway); !ok {
		t.Error("New() should return *Gateway")
	}
}

func TestGateway_ProvisionDefaults(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Configure(mustYAMLNode(t, "{}")); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	appCtx := core.NewAppContext(nil, t.TempDir())
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if g.config.Bind != "127.0.0.1:8080" {
		t.Errorf("Bind = %q, want default", g.config.Bind)
	}
	if g.config.WriteTimeout != 2*time.Minute {
		t.Errorf("WriteTimeout = %v, want 2m", g.config.WriteTimeout)
	}
	if !*g.config.PersistConfig {
		t.Error("PersistConfig should default to true")
	}
	if _, err := core.Service[dispatch.Presenter](appCtx, core.ServiceEvents); err != nil {
		t.Errorf("event hub not registered: %v", err)
	}
}

func TestGateway_ValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad bind":        `bind: "not an address"`,
		"negative body":   `max_body_size: -1`,
		"negative rate":   `messages_per_min: -5`,
		"negative read":   `read_timeout: -1s`,
		"half basic auth": "auth:\n  basic_user: admin",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			g := &Gateway{}
			if err := g.Configure(mustYAMLNode(t, doc)); err != nil {
				t.Fatal(err)
			}
			if err := g.Provision(core.NewAppContext(nil, t.TempDir())); err != nil {
				t.Fatal(err)
			}
			if err := g.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	c.defaults()
	if c.Bind != DefaultBind || c.WriteTimeout != DefaultWriteTimeout || !*c.PersistConfig {
		t.Errorf("defaults = %+v", c)
	}
	if err := c.check(); err != nil {
		t.Errorf("defaulted config fails check: %v", err)
	}

	off := false
	c = Config{Bind: "0.0.0.0:9000", PersistConfig: &off}
	c.defaults()
	if c.Bind != "0.0.0.0:9000" || *c.PersistConfig {
		t.Errorf("explicit values overwritten: %+v", c)
	}
}

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Configure(mustYAMLNode(t, `bind: "127.0.0.1:0"`)); err != nil {
		t.Fatal(err)
	}
	appCtx := core.NewAppContext(nil, t.TempDir())
	if err := g.Provision(appCtx); err != nil {
		t.Fatal(err)
	}

	if err := g.Start(); err == nil {
		t.Fatal("Start without an engine should fail")
	}

	appCtx.RegisterService(core.ServiceEngine, newOfflineEngine(t, nil))
	appCtx.RegisterService(core.ServiceMetrics, telemetry.NewMetrics())
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, body := do(t, http.MethodGet, "http://"+g.addr+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, body %s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, "http://"+g.addr+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}

	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSendMessage_Offline(t *testing.T) {
	t.Parallel()

	_, srv := newTestGateway(t, newOfflineEngine(t, nil), Config{})

	msg := "how do I fix this bug"
	resp, body := do(t, http.MethodPost, srv.URL+"/api/messages", `{"message":"`+msg+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	got := decode[sendMessageResponse](t, body)
	if got.Outcome != dispatch.OutcomeLocal {
		t.Errorf("outcome = %q, want local", got.Outcome)
	}
	if got.Reply != fallback.Respond(msg) {
		t.Errorf("reply = %q, want the local answer", got.Reply)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
	if _, err := uuid.Parse(got.ID); err != nil {
		t.Errorf("id %q is not a UUID: %v", got.ID, err)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/api/history", "")
	hist := decode[historyResponse](t, body)
	if len(hist.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(hist.Turns))
	}
	if hist.Turns[0].Role != conversation.RoleUser || hist.Turns[1].Role != conversation.RoleAssistant {
		t.Errorf("roles = %s, %s", hist.Turns[0].Role, hist.Turns[1].Role)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		engine Engine
		cfg    Config
		body   string
		want   int
	}{
		{name: "empty message", engine: newOfflineEngine(t, nil), body: `{"message":"   "}`, want: http.StatusBadRequest},
		{name: "invalid json", engine: newOfflineEngine(t, nil), body: `{"message":`, want: http.StatusBadRequest},
		{name: "busy", engine: &fakeEngine{dispatchErr: dispatch.ErrBusy}, body: `{"message":"hi"}`, want: http.StatusConflict},
		{name: "too large", engine: newOfflineEngine(t, nil), cfg: Config{MaxBodySize: 16}, body: `{"message":"this is far too long"}`, want: http.StatusRequestEntityTooLarge},
		{name: "too deep", engine: newOfflineEngine(t, nil), body: strings.Repeat("[", 40) + strings.Repeat("]", 40), want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, srv := newTestGateway(t, tt.engine, tt.cfg)
			resp, body := do(t, http.MethodPost, srv.URL+"/api/messages", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.want, body)
			}
			if !strings.Contains(string(body), `"error"`) {
				t.Errorf("body %s should carry an error field", body)
			}
		})
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	t.Parallel()

	_, srv := newTestGateway(t, newOfflineEngine(t, nil), Config{MessagesPerMin: 1})

	if resp, body := do(t, http.MethodPost, srv.URL+"/api/messages", `{"message":"loop"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, body %s", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/api/messages", `{"message":"loop"}`); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", resp.StatusCode)
	}
}

func TestGetHistory_Limit(t *testing.T) {
	t.Parallel()

	engine := newOfflineEngine(t, nil)
	for _, m := range []string{"one", "two", "three"} {
		if _, err := engine.Dispatch(context.Background(), m); err != nil {
			t.Fatal(err)
		}
	}
	_, srv := newTestGateway(t, engine, Config{})

	tests := []struct {
		query string
		code  int
		turns int
	}{
		{query: "", code: http.StatusOK, turns: 6},
		{query: "?limit=2", code: http.StatusOK, turns: 2},
		{query: "?limit=0", code: http.StatusOK, turns: 6},
		{query: "?limit=-1", code: http.StatusBadRequest},
		{query: "?limit=abc", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, body := do(t, http.MethodGet, srv.URL+"/api/history"+tt.query, "")
		if resp.StatusCode != tt.code {
			t.Errorf("%q: status = %d, want %d", tt.query, resp.StatusCode, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		if got := decode[historyResponse](t, body); len(got.Turns) != tt.turns {
			t.Errorf("%q: turns = %d, want %d", tt.query, len(got.Turns), tt.turns)
		}
	}
}

func TestClearHistory(t *testing.T) {
	t.Parallel()

	engine := newOfflineEngine(t, nil)
	if _, err := engine.Dispatch(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	_, srv := newTestGateway(t, engine, Config{})

	resp, _ := do(t, http.MethodDelete, srv.URL+"/api/history", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	turns := engine.Transcript(0)
	if len(turns) != 1 || turns[0].Content != dispatch.Greeting {
		t.Errorf("transcript = %+v, want only the greeting", turns)
	}

	_, busy := newTestGateway(t, &fakeEngine{resetErr: dispatch.ErrBusy}, Config{})
	if resp, _ := do(t, http.MethodDelete, busy.URL+"/api/history", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("busy reset status = %d, want 409", resp.StatusCode)
	}
}

func TestGetConfig_Redacted(t *testing.T) {
	t.Parallel()

	engine := newOfflineEngine(t, func(c *dispatch.Config) {
		c.APIKey = "sk-test-not-a-real-key"
		c.Headers = map[string]string{"Authorization": "Bearer abc", "X-Team": "core"}
	})
	_, srv := newTestGateway(t, engine, Config{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/config", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if bytes.Contains(body, []byte("sk-test-not-a-real-key")) || bytes.Contains(body, []byte("Bearer abc")) {
		t.Errorf("secret leaked: %s", body)
	}
	got := decode[assistantConfig](t, body)
	if got.APIKey != security.RedactPlaceholder {
		t.Errorf("api_key = %q", got.APIKey)
	}
	if got.Headers["X-Team"] != "core" {
		t.Errorf("headers = %v", got.Headers)
	}
	if got.RetryDelay != dispatch.DefaultRetryDelay.String() {
		t.Errorf("retry_delay = %q", got.RetryDelay)
	}
}

func TestUpdateConfig(t *testing.T) {
	t.Parallel()

	engine := newOfflineEngine(t, func(c *dispatch.Config) {
		c.APIKey = "sk-keep-me"
	})
	g, srv := newTestGateway(t, engine, Config{})
	g.configPath = filepath.Join(t.TempDir(), "chatbot.yaml")

	// Round-trip what GET returns, with two fields changed.
	_, body := do(t, http.MethodGet, srv.URL+"/api/config", "")
	cur := decode[assistantConfig](t, body)
	cur.Method = "post"
	cur.MaxRetries = 1
	cur.RetryDelay = "500ms"
	payload, _ := json.Marshal(cur)

	resp, body := do(t, http.MethodPut, srv.URL+"/api/config", string(payload))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	live := engine.Configuration()
	if live.Method != dispatch.MethodPost || live.MaxRetries != 1 || live.RetryDelay != 500*time.Millisecond {
		t.Errorf("live config = %+v", live)
	}
	if live.APIKey != "sk-keep-me" {
		t.Errorf("APIKey = %q, redacted echo should keep the key", live.APIKey)
	}

	saved, err := config.Load(g.configPath)
	if err != nil {
		t.Fatalf("config not saved: %v", err)
	}
	if saved.Assistant.MaxRetries != 1 {
		t.Errorf("saved max_retries = %d, want 1", saved.Assistant.MaxRetries)
	}
}

func TestUpdateConfig_Partial(t *testing.T) {
	t.Parallel()

	engine := newOfflineEngine(t, nil)
	_, srv := newTestGateway(t, engine, Config{})

	resp, body := do(t, http.MethodPut, srv.URL+"/api/config", `{"model":"llama3"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	live := engine.Configuration()
	if live.Model != "llama3" {
		t.Errorf("Model = %q", live.Model)
	}
	if live.MaxRetries != dispatch.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, omitted fields must keep their value", live.MaxRetries)
	}
}

func TestUpdateConfig_Invalid(t *testing.T) {
	t.Parallel()

	engine := newOfflineEngine(t, nil)
	_, srv := newTestGateway(t, engine, Config{})

	for _, body := range []string{
		`{"method":"PATCH"}`,
		`{"retry_delay":"soon"}`,
		`{"max_history":1}`,
	} {
		resp, data := do(t, http.MethodPut, srv.URL+"/api/config", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (body %s)", body, resp.StatusCode, data)
		}
	}
	if got := engine.Configuration().Method; got != dispatch.MethodGet {
		t.Errorf("Method = %q, invalid updates must not apply", got)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	_, healthy := newTestGateway(t, newOfflineEngine(t, nil), Config{})
	resp, body := do(t, http.MethodGet, healthy.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthy status = %d", resp.StatusCode)
	}
	if got := decode[HealthResponse](t, body); got.Status != "ok" || got.Backend.State != "healthy" {
		t.Errorf("healthy response = %+v", got)
	}

	degraded := &fakeEngine{health: dispatch.Health{State: dispatch.StateOffline, Failures: 5, LastError: "unreachable"}}
	_, srv := newTestGateway(t, degraded, Config{})
	resp, body = do(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("offline status = %d, want 503", resp.StatusCode)
	}
	got := decode[HealthResponse](t, body)
	if got.Status != "degraded" || got.Backend.State != "offline" || got.Backend.Failures != 5 {
		t.Errorf("offline response = %+v", got)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	_, srv := newTestGateway(t, newOfflineEngine(t, nil), Config{})
	resp, body := do(t, http.MethodGet, srv.URL+"/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[StatusResponse](t, body)
	if got.Processing || got.Turns != 0 || got.Backend.State != "healthy" {
		t.Errorf("status = %+v", got)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	cfg := Config{Auth: AuthConfig{BearerToken: "secret-token", BasicUser: "admin", BasicPass: "pass123"}}
	_, srv := newTestGateway(t, newOfflineEngine(t, nil), cfg)

	tests := []struct {
		name  string
		path  string
		setup func(*http.Request)
		want  int
	}{
		{name: "no credentials", path: "/api/status", setup: func(*http.Request) {}, want: http.StatusUnauthorized},
		{name: "bearer", path: "/api/status", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret-token") }, want: http.StatusOK},
		{name: "wrong bearer", path: "/api/status", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, want: http.StatusUnauthorized},
		{name: "basic", path: "/api/status", setup: func(r *http.Request) { r.SetBasicAuth("admin", "pass123") }, want: http.StatusOK},
		{name: "wrong basic", path: "/api/status", setup: func(r *http.Request) { r.SetBasicAuth("admin", "nope") }, want: http.StatusUnauthorized},
		{name: "query token", path: "/api/status?access_token=secret-token", setup: func(*http.Request) {}, want: http.StatusOK},
		{name: "health stays public", path: "/health", setup: func(*http.Request) {}, want: http.StatusOK},
		{name: "websocket protected", path: "/ws", setup: func(*http.Request) {}, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, _ := do(t, http.MethodGet, srv.URL+tt.path, "", tt.setup)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestIsLoopback(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8080":   false,
		":8080":          false,
		"garbage":        false,
	}
	for bind, want := range tests {
		if got := isLoopback(bind); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", bind, got, want)
		}
	}
}

func TestConfigPersistenceDisabled(t *testing.T) {
	t.Parallel()

	off := false
	g, srv := newTestGateway(t, newOfflineEngine(t, nil), Config{PersistConfig: &off})
	g.configPath = filepath.Join(t.TempDir(), "chatbot.yaml")

	if resp, _ := do(t, http.MethodPut, srv.URL+"/api/config", `{"model":"x"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := os.Stat(g.configPath); !os.IsNotExist(err) {
		t.Errorf("config file written although persist_config is false: %v", err)
	}
}
