// Package security keeps secrets out of logs and guards the gateway input.
package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder replaces every redacted secret. It matches the value
// shown for redacted configuration fields.
const RedactPlaceholder = "[REDACTED]"

// Redactor replaces secrets in strings. Known token formats are matched by
// pattern; keys loaded at runtime, such as the configured API key, are
// matched literally. All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// AddPattern adds a pattern whose matches are redacted.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral adds a secret value. Empty strings and duplicates are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lit := range r.literals {
		if lit == secret {
			return
		}
	}
	r.literals = append(r.literals, secret)
}

// Redact returns s with every pattern match and literal replaced.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	for _, p := range patterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			sub := p.FindStringSubmatchIndex(match)
			// Patterns with a capture group keep the text before it,
			// so "Bearer abc" becomes "Bearer [REDACTED]".
			if len(sub) >= 4 && sub[2] >= 0 {
				return match[:sub[2]] + RedactPlaceholder
			}
			return RedactPlaceholder
		})
	}
	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	return s
}

// DefaultPatterns returns patterns for credentials chat backends commonly
// use: OpenAI and Anthropic keys, bearer and basic authorization values,
// and api_key style query parameters.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-_]{20,}`),
		regexp.MustCompile(`sk-[a-zA-Z0-9\-_]{20,}`),
		regexp.MustCompile(`(?i)\b(?:bearer|basic) ([a-zA-Z0-9\-._~+/]{8,}=*)`),
		regexp.MustCompile(`(?i)[?&](?:api_key|apikey|access_token|token)=([^&\s"]+)`),
	}
}
