// Package mcpserver exposes the conversation as Model Context Protocol tools
// so that editors and agents can talk to the chatbot over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/dispatch"
)

// Tool names.
const (
	ToolSendMessage  = "send_message"
	ToolGetHistory   = "get_history"
	ToolClearHistory = "clear_history"
	ToolGetStatus    = "get_status"
)

// Engine is the part of the dispatch engine exposed as tools.
type Engine interface {
	Dispatch(ctx context.Context, message string) (dispatch.Result, error)
	Reset(ctx context.Context) error
	Transcript(n int) []conversation.Turn
	Health() dispatch.Health
	Processing() bool
}

// Server serves the chatbot tools.
type Server struct {
	engine Engine
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New creates a server named after the chatbot at version.
func New(engine Engine, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		engine: engine,
		logger: logger,
		mcp:    server.NewMCPServer("chatbot", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool(ToolSendMessage,
		mcp.WithDescription("Send a message to the assistant and return its reply. The exchange is added to the conversation."),
		mcp.WithString("message", mcp.Required(), mcp.Description("the user message")),
	), s.handleSendMessage)

	s.mcp.AddTool(mcp.NewTool(ToolGetHistory,
		mcp.WithDescription("Return the most recent conversation turns, oldest first."),
		mcp.WithNumber("limit", mcp.Description("number of turns to return, 0 for all (default 10)")),
	), s.handleGetHistory)

	s.mcp.AddTool(mcp.NewTool(ToolClearHistory,
		mcp.WithDescription("Start a new conversation. The assistant greeting becomes the first turn."),
	), s.handleClearHistory)

	s.mcp.AddTool(mcp.NewTool(ToolGetStatus,
		mcp.WithDescription("Report backend health and whether a message is being processed."),
	), s.handleGetStatus)

	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Serve reads requests from in and writes responses to out until ctx is
// done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

type sendMessageResult struct {
	ID       string `json:"id"`
	Reply    string `json:"reply"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts"`
	Method   string `json:"method"`
}

type statusResult struct {
	Backend    string `json:"backend"`
	Failures   int    `json:"failures"`
	LastError  string `json:"last_error,omitempty"`
	Processing bool   `json:"processing"`
	Turns      int    `json:"turns"`
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.engine.Dispatch(ctx, message)
	switch {
	case errors.Is(err, dispatch.ErrEmptyMessage):
		return mcp.NewToolResultError("message is empty"), nil
	case errors.Is(err, dispatch.ErrBusy):
		return mcp.NewToolResultError("the assistant is still answering the previous message"), nil
	case err != nil:
		return nil, err
	}

	s.logger.Debug("mcp: message dispatched", "dispatch_id", res.ID, "outcome", string(res.Outcome))
	return jsonResult(sendMessageResult{
		ID:       res.ID,
		Reply:    res.Reply,
		Outcome:  string(res.Outcome),
		Attempts: res.Attempts,
		Method:   string(res.Method),
	})
}

func (s *Server) handleGetHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", dispatch.DefaultTranscriptTurns)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}
	turns := s.engine.Transcript(limit)
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return jsonResult(turns)
}

func (s *Server) handleClearHistory(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.Reset(ctx); err != nil {
		if errors.Is(err, dispatch.ErrBusy) {
			return mcp.NewToolResultError("the assistant is still answering, try again shortly"), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(dispatch.Greeting), nil
}

func (s *Server) handleGetStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h := s.engine.Health()
	return jsonResult(statusResult{
		Backend:    h.State.String(),
		Failures:   h.Failures,
		LastError:  h.LastError,
		Processing: s.engine.Processing(),
		Turns:      len(s.engine.Transcript(0)),
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
