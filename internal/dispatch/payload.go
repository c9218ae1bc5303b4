package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/flemzord/chatbot/internal/conversation"
)

// wire types for the completion request.

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// buildRequest assembles the outbound payload: the system prompt, the
// history preceding the new turn, then the new user turn.
func buildRequest(cfg Config, history []conversation.Turn, user conversation.Turn) wireRequest {
	messages := make([]wireMessage, 0, len(history)+2)
	messages = append(messages, wireMessage{Role: string(conversation.RoleSystem), Content: cfg.SystemPrompt})
	for _, t := range history {
		messages = append(messages, wireMessage{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, wireMessage{Role: string(user.Role), Content: user.Content})

	return wireRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
	}
}

// query encodes r as URL query parameters, messages as a JSON string.
func (r wireRequest) query() (url.Values, error) {
	messages, err := json.Marshal(r.Messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}
	v := url.Values{}
	v.Set("model", r.Model)
	v.Set("messages", string(messages))
	v.Set("temperature", strconv.FormatFloat(r.Temperature, 'f', -1, 64))
	return v, nil
}

// resolveURL resolves the endpoint against the origin. When a proxy is
// configured, it prefixes every URL that leaves the origin.
func resolveURL(cfg Config, query url.Values) (string, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	ref, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	target := ref
	if !ref.IsAbs() {
		target = origin.ResolveReference(ref)
	}

	if len(query) > 0 {
		merged := target.Query()
		for k, vs := range query {
			merged[k] = vs
		}
		target.RawQuery = merged.Encode()
	}

	s := target.String()
	if cfg.ProxyURL != "" && !sameOrigin(target, origin) {
		s = cfg.ProxyURL + s
	}
	return s, nil
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// newRequest builds the HTTP request for one attempt.
func newRequest(ctx context.Context, cfg Config, method Method, body wireRequest) (*http.Request, error) {
	var (
		query  url.Values
		reader io.Reader
	)
	switch method {
	case MethodGet:
		q, err := body.query()
		if err != nil {
			return nil, err
		}
		query = q
	default:
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target, err := resolveURL(cfg, query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, string(method), target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	setHeaders(req, cfg)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func setHeaders(req *http.Request, cfg Config) {
	req.Header.Set("Accept", "application/json")
	if key := cfg.ResolveAPIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
}

// maxErrorBodySize caps how much of an error response body is read.
const maxErrorBodySize = 4096

// maxResponseBodySize caps a successful response body.
const maxResponseBodySize = 4 << 20

// classifyStatus maps a non-2xx response to an attempt error.
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	snippet := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, snippet)
	case http.StatusMethodNotAllowed:
		return fmt.Errorf("%w: %s", ErrMethodNotAllowed, snippet)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnexpectedStatus, resp.StatusCode, snippet)
	}
}
