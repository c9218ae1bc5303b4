package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/flemzord/chatbot/internal/config"
	"github.com/flemzord/chatbot/internal/security"
)

// NewLogger builds the application logger described by cfg. Every record
// passes through redactor before it is written.
func NewLogger(cfg config.LoggingConfig, w io.Writer, redactor *security.Redactor) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	switch cfg.Format {
	case "", "text":
		inner = slog.NewTextHandler(w, opts)
	case "json":
		inner = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("app: unknown log format %q", cfg.Format)
	}

	if redactor == nil {
		redactor = security.NewRedactor()
	}
	return slog.New(security.NewRedactingHandler(inner, redactor)), nil
}
