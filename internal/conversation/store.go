package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flemzord/chatbot/internal/persist"
)

const (
	// DefaultKey is the persistence entry holding the serialized transcript.
	DefaultKey = "ai-chatbot-history"

	// DefaultMaxTurns is the default transcript cap.
	DefaultMaxTurns = 20

	// MinMaxTurns is the smallest cap that still keeps the anchor turn and
	// the newest turn.
	MinMaxTurns = 2
)

// ErrInvalidRole is returned when a turn carries an unknown role.
var ErrInvalidRole = errors.New("conversation: invalid role")

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the persistence key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithMaxTurns sets the transcript cap. Values below MinMaxTurns are raised.
func WithMaxTurns(n int) Option {
	return func(s *Store) { s.max = clampMax(n) }
}

// WithLogger injects a structured logger. Persistence failures are reported
// here and nowhere else.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the bounded, persisted transcript. All methods are safe for
// concurrent use; readers never observe a half-applied append or eviction.
type Store struct {
	kv     persist.KV
	key    string
	logger *slog.Logger

	mu    sync.RWMutex
	turns []Turn
	max   int
}

// NewStore creates an empty store backed by kv. Call Load to restore a
// previously persisted transcript.
func NewStore(kv persist.KV, opts ...Option) *Store {
	s := &Store{
		kv:  kv,
		key: DefaultKey,
		max: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Load replaces the in-memory transcript with the persisted one and returns
// the number of restored turns. A missing, unreadable or corrupt entry
// leaves the store empty; Load never fails.
func (s *Store) Load(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = nil

	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, persist.ErrNotFound) {
			s.logger.Warn("conversation: load failed, starting empty", "key", s.key, "error", err)
		}
		return 0
	}

	turns, err := decode(data)
	if err != nil {
		s.logger.Warn("conversation: corrupt history, starting empty", "key", s.key, "error", err)
		return 0
	}

	s.turns = bound(turns, s.max)
	return len(s.turns)
}

// Append adds turn at the end, enforces the cap and persists the result.
// Only an invalid turn is reported; persistence errors are logged.
func (s *Store) Append(ctx context.Context, turn Turn) error {
	if err := turn.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = bound(append(s.turns, turn), s.max)
	s.save(ctx)
	return nil
}

// Clear empties the transcript and erases the persisted entry.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = nil
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.logger.Error("conversation: erase failed", "key", s.key, "error", err)
	}
}

// Recent returns a copy of the n most recent turns in chronological order.
func (s *Store) Recent(n int) []Turn {
	if n <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := max(len(s.turns)-n, 0)
	out := make([]Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

// All returns a copy of the full transcript.
func (s *Store) All() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of stored turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// MaxTurns returns the current cap.
func (s *Store) MaxTurns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.max
}

// SetMaxTurns changes the cap. A lower cap trims the transcript at once
// and persists the result.
func (s *Store) SetMaxTurns(ctx context.Context, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = clampMax(n)
	if len(s.turns) > s.max {
		s.turns = bound(s.turns, s.max)
		s.save(ctx)
	}
}

// save writes the transcript. Caller holds s.mu.
func (s *Store) save(ctx context.Context) {
	data, err := json.Marshal(s.turnsOrEmpty())
	if err != nil {
		s.logger.Error("conversation: encode failed", "error", err)
		return
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.logger.Error("conversation: persist failed", "key", s.key, "error", err)
	}
}

func (s *Store) turnsOrEmpty() []Turn {
	if s.turns == nil {
		return []Turn{}
	}
	return s.turns
}

func decode(data []byte) ([]Turn, error) {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("conversation: decode: %w", err)
	}
	for i, t := range turns {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("conversation: turn %d: %w", i, err)
		}
	}
	return turns, nil
}

// bound keeps the first turn as an anchor plus the most recent max-1 turns.
func bound(turns []Turn, limit int) []Turn {
	if len(turns) <= limit {
		return turns
	}
	out := make([]Turn, 0, limit)
	out = append(out, turns[0])
	return append(out, turns[len(turns)-(limit-1):]...)
}

func clampMax(n int) int {
	if n <= 0 {
		return DefaultMaxTurns
	}
	return max(n, MinMaxTurns)
}
