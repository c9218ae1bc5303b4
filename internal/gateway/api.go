package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/flemzord/chatbot/internal/config"
	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/dispatch"
	"github.com/flemzord/chatbot/internal/security"
)

type sendMessageRequest struct {
	Message string `json:"message"`
}

type sendMessageResponse struct {
	ID        string           `json:"id"`
	Reply     string           `json:"reply"`
	Outcome   dispatch.Outcome `json:"outcome"`
	Attempts  int              `json:"attempts"`
	Method    dispatch.Method  `json:"method,omitempty"`
	ElapsedMS int64            `json:"elapsed_ms"`
}

type historyResponse struct {
	Turns []conversation.Turn `json:"turns"`
}

// assistantConfig is the JSON form of dispatch.Config. Durations are
// written as Go duration strings.
type assistantConfig struct {
	Endpoint      string            `json:"endpoint"`
	Method        string            `json:"method"`
	Model         string            `json:"model"`
	SystemPrompt  string            `json:"system_prompt"`
	Temperature   float64           `json:"temperature"`
	MaxRetries    int               `json:"max_retries"`
	RetryDelay    string            `json:"retry_delay"`
	Jitter        string            `json:"jitter"`
	AllowFallback bool              `json:"allow_fallback"`
	Origin        string            `json:"origin"`
	ProxyURL      string            `json:"proxy_url"`
	HistoryWindow int               `json:"history_window"`
	MaxHistory    int               `json:"max_history"`
	Timeout       string            `json:"timeout"`
	APIKey        string            `json:"api_key,omitempty"`
	APIKeyEnv     string            `json:"api_key_env,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

func toAssistantConfig(c dispatch.Config) assistantConfig {
	return assistantConfig{
		Endpoint:      c.Endpoint,
		Method:        string(c.Method),
		Model:         c.Model,
		SystemPrompt:  c.SystemPrompt,
		Temperature:   c.Temperature,
		MaxRetries:    c.MaxRetries,
		RetryDelay:    c.RetryDelay.String(),
		Jitter:        c.Jitter.String(),
		AllowFallback: c.AllowFallback,
		Origin:        c.Origin,
		ProxyURL:      c.ProxyURL,
		HistoryWindow: c.HistoryWindow,
		MaxHistory:    c.MaxHistory,
		Timeout:       c.Timeout.String(),
		APIKey:        c.APIKey,
		APIKeyEnv:     c.APIKeyEnv,
		Headers:       maps.Clone(c.Headers),
	}
}

// merge returns current with the fields of a applied. Redacted secrets
// echoed back from GET /api/config keep their current value.
func (a assistantConfig) merge(current dispatch.Config) (dispatch.Config, error) {
	var errs []error
	duration := func(field, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return d
	}

	next := dispatch.Config{
		Endpoint:      a.Endpoint,
		Method:        dispatch.Method(a.Method),
		Model:         a.Model,
		SystemPrompt:  a.SystemPrompt,
		Temperature:   a.Temperature,
		MaxRetries:    a.MaxRetries,
		RetryDelay:    duration("retry_delay", a.RetryDelay),
		Jitter:        duration("jitter", a.Jitter),
		AllowFallback: a.AllowFallback,
		Origin:        a.Origin,
		ProxyURL:      a.ProxyURL,
		HistoryWindow: a.HistoryWindow,
		MaxHistory:    a.MaxHistory,
		Timeout:       duration("timeout", a.Timeout),
		APIKey:        a.APIKey,
		APIKeyEnv:     a.APIKeyEnv,
		Headers:       maps.Clone(a.Headers),
	}
	if next.APIKey == security.RedactPlaceholder {
		next.APIKey = current.APIKey
	}
	for k, v := range next.Headers {
		if v == security.RedactPlaceholder {
			next.Headers[k] = current.Headers[k]
		}
	}
	return next, errors.Join(errs...)
}

// handleSendMessage dispatches one message and answers with the reply.
// The dispatch keeps running to completion if the client goes away.
func (g *Gateway) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.limiter.Allow(clientKey(r)); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		var req sendMessageRequest
		if !g.decodeBody(w, r, &req) {
			return
		}

		res, err := g.engine.Dispatch(r.Context(), req.Message)
		switch {
		case errors.Is(err, dispatch.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, dispatch.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			g.logger.Error("dispatch failed", "error", err)
			writeError(w, http.StatusInternalServerError, "dispatch failed")
			return
		}

		writeJSON(w, http.StatusOK, sendMessageResponse{
			ID:        res.ID,
			Reply:     res.Reply,
			Outcome:   res.Outcome,
			Attempts:  res.Attempts,
			Method:    res.Method,
			ElapsedMS: res.Elapsed.Milliseconds(),
		})
	}
}

// handleGetHistory returns the last ?limit= turns; limit=0 returns all.
func (g *Gateway) handleGetHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := dispatch.DefaultTranscriptTurns
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		turns := g.engine.Transcript(limit)
		if turns == nil {
			turns = []conversation.Turn{}
		}
		writeJSON(w, http.StatusOK, historyResponse{Turns: turns})
	}
}

func (g *Gateway) handleClearHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := g.engine.Reset(r.Context())
		if errors.Is(err, dispatch.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			g.logger.Error("reset failed", "error", err)
			writeError(w, http.StatusInternalServerError, "reset failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, toAssistantConfig(g.engine.Configuration().Redacted()))
	}
}

// handleUpdateConfig applies a full or partial assistant configuration.
// Omitted fields keep their current value.
func (g *Gateway) handleUpdateConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current := g.engine.Configuration()
		body := toAssistantConfig(current)
		if !g.decodeBody(w, r, &body) {
			return
		}

		next, err := body.merge(current)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := g.engine.ApplyConfiguration(next); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Info("assistant configuration updated", "remote_addr", r.RemoteAddr)

		if *g.config.PersistConfig && g.configPath != "" {
			if err := config.UpdateAssistant(g.configPath, next); err != nil {
				g.logger.Error("saving configuration failed", "path", g.configPath, "error", err)
			}
		}

		writeJSON(w, http.StatusOK, toAssistantConfig(g.engine.Configuration().Redacted()))
	}
}

// decodeBody reads a size and depth limited JSON body into v. It writes the
// error response itself and reports whether decoding succeeded.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := security.DecodeJSON(r.Body, v, security.Limits{MaxBytes: g.config.MaxBodySize})
	switch {
	case err == nil:
		return true
	case errors.Is(err, security.ErrMessageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, security.ErrJSONTooDeep), errors.Is(err, security.ErrInvalidJSON):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, "reading body failed")
	}
	return false
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
