// Package gateway exposes the chat engine over HTTP: a JSON API, a
// websocket stream of presentation events, health and metrics. It binds to
// loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/core"
	"github.com/flemzord/chatbot/internal/dispatch"
	"github.com/flemzord/chatbot/internal/security"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Engine is the part of *dispatch.Engine the gateway serves.
type Engine interface {
	Dispatch(ctx context.Context, message string) (dispatch.Result, error)
	Reset(ctx context.Context) error
	Transcript(n int) []conversation.Turn
	Configuration() dispatch.Config
	ApplyConfiguration(cfg dispatch.Config) error
	Health() dispatch.Health
	Processing() bool
}

type metricsSource interface {
	Handler() http.Handler
}

// Gateway is the HTTP gateway module. Nothing imports it; it finds the
// engine through the service registry when it starts.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	hub       *Hub
	limiter   *security.RateLimiter
	startedAt time.Time
	addr      string

	// Resolved at Start() via the service registry.
	engine     Engine
	metrics    http.Handler
	configPath string
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	return nil
}

// Provision implements core.Provisioner. The event hub is registered here
// so the application can attach it to the engine before modules start.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.hub = NewHub(g.logger)
	g.limiter = security.NewRateLimiter(g.config.MessagesPerMin)

	ctx.RegisterService(core.ServiceEvents, g.hub)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	return g.config.check()
}

// Start implements core.Starter. It resolves the engine and the optional
// metrics handler, then starts the HTTP server.
func (g *Gateway) Start() error {
	engine, err := core.Service[Engine](g.appCtx, core.ServiceEngine)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	g.engine = engine

	if m, err := core.Service[metricsSource](g.appCtx, core.ServiceMetrics); err == nil {
		g.metrics = m.Handler()
	}
	if path, err := core.Service[string](g.appCtx, core.ServiceConfig); err == nil {
		g.configPath = path
	}

	if !g.config.Auth.IsConfigured() && !isLoopback(g.config.Bind) {
		g.logger.Warn("gateway exposed without authentication", "addr", g.config.Bind)
	}

	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	g.addr = ln.Addr().String()
	go func() {
		g.logger.Info("gateway listening", "addr", g.addr)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Websocket clients are disconnected first so
// Shutdown does not wait on hijacked connections.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

func isLoopback(bind string) bool {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
