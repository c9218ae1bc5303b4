// Package normalize extracts a single reply text from the JSON bodies of
// heterogeneous completion backends.
//
// Backends expose the same answer under different field names: OpenAI-style
// chat completions nest it under choices, simple proxies return "response"
// or "message", Ollama nests it under message.content and Anthropic returns
// an array of content blocks. A Normalizer tries an ordered list of shape
// matchers and the first one yielding non-empty text wins.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned when a body is not valid JSON.
	ErrMalformed = errors.New("normalize: malformed response body")

	// ErrNoText is returned when the payload carries nothing to extract.
	ErrNoText = errors.New("normalize: no usable text")
)

// Matcher recognizes one response shape. Extract reports false when the
// shape does not apply; it must not mutate its input.
type Matcher struct {
	Name    string
	Extract func(payload any) (string, bool)
}

// Normalizer applies matchers in order.
type Normalizer struct {
	matchers []Matcher
}

// New returns a Normalizer using matchers, or Default() when none are given.
func New(matchers ...Matcher) *Normalizer {
	if len(matchers) == 0 {
		matchers = Default()
	}
	return &Normalizer{matchers: matchers}
}

// Default returns the built-in matchers in precedence order. The last one
// re-serializes the whole payload so that an unknown shape still produces a
// visible diagnostic instead of an error. A known completion shape that
// carries no text is not unknown, so it gets no diagnostic either.
func Default() []Matcher {
	return []Matcher{
		{Name: "choices", Extract: choicesMessage},
		{Name: "response", Extract: field("response")},
		{Name: "message", Extract: messageText},
		{Name: "content", Extract: contentText},
		{Name: "diagnostic", Extract: diagnostic},
	}
}

// Decode parses body as JSON and normalizes it.
func (n *Normalizer) Decode(body []byte) (text, matcher string, err error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if dec.More() {
		return "", "", fmt.Errorf("%w: trailing data after JSON value", ErrMalformed)
	}
	return n.Normalize(payload)
}

// Normalize returns the first text extracted by a matcher along with the
// matcher's name. A nil payload, or one no matcher extracts text from,
// yields ErrNoText.
func (n *Normalizer) Normalize(payload any) (text, matcher string, err error) {
	if payload == nil {
		return "", "", ErrNoText
	}
	for _, m := range n.matchers {
		if text, ok := m.Extract(payload); ok {
			return text, m.Name, nil
		}
	}
	return "", "", ErrNoText
}

// field matches a top-level string field.
func field(name string) func(any) (string, bool) {
	return func(payload any) (string, bool) {
		obj, ok := payload.(map[string]any)
		if !ok {
			return "", false
		}
		return text(obj[name])
	}
}

// choicesMessage matches choices[0].message.content.
func choicesMessage(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return "", false
	}
	return text(msg["content"])
}

// messageText matches a top-level message string or an Ollama-style
// message object carrying content.
func messageText(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	switch msg := obj["message"].(type) {
	case string:
		return text(msg)
	case map[string]any:
		return text(msg["content"])
	}
	return "", false
}

// contentText matches a top-level content string or an array of text blocks,
// joined in order.
func contentText(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	switch c := obj["content"].(type) {
	case string:
		return text(c)
	case []any:
		var parts []string
		for _, item := range c {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if typ, ok := block["type"].(string); ok && typ != "text" {
				continue
			}
			if s, ok := text(block["text"]); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, "\n"), true
	}
	return "", false
}

func diagnostic(payload any) (string, bool) {
	if textless(payload) {
		return "", false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload), true
	}
	return string(data), true
}

func text(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// textless reports whether payload is a recognized completion whose reply
// slot is empty, as in tool-call turns that answer with content null.
func textless(payload any) bool {
	obj, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if _, ok := choice["message"].(map[string]any); ok {
				return true
			}
		}
	}
	if _, ok := obj["message"].(map[string]any); ok {
		return true
	}
	_, ok = obj["content"].([]any)
	return ok
}
