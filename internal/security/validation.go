package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Input limits applied when Limits leaves a field at zero.
const (
	DefaultMaxMessageSize = 64 << 10
	DefaultMaxJSONDepth   = 16
)

// Input errors.
var (
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrJSONTooDeep     = errors.New("JSON nesting exceeds maximum depth")
	ErrInvalidJSON     = errors.New("invalid JSON")
)

// Limits bounds untrusted JSON input.
type Limits struct {
	MaxBytes int
	MaxDepth int
}

func (l Limits) withDefaults() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxMessageSize
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxJSONDepth
	}
	return l
}

// DecodeJSON reads exactly one JSON document from r into v. Nesting is
// measured before decoding so a hostile document never reaches the
// decoder's recursion.
func DecodeJSON(r io.Reader, v any, limits Limits) error {
	l := limits.withDefaults()

	data, err := io.ReadAll(io.LimitReader(r, int64(l.MaxBytes)+1))
	if err != nil {
		return fmt.Errorf("security: reading input: %w", err)
	}
	if len(data) > l.MaxBytes {
		return fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, l.MaxBytes)
	}
	if depth := nestingDepth(data); depth > l.MaxDepth {
		return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, l.MaxDepth)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after document", ErrInvalidJSON)
	}
	return nil
}

// nestingDepth returns the deepest object or array nesting in data.
// Brackets inside strings are ignored. data need not be valid JSON.
func nestingDepth(data []byte) int {
	depth, deepest := 0, 0
	inString, escaped := false, false
	for _, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
			deepest = max(deepest, depth)
		case '}', ']':
			depth--
		}
	}
	return deepest
}
