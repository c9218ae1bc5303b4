package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/persist"
)

// failingKV rejects every write; reads report no entry.
type failingKV struct{}

func (failingKV) Get(context.Context, string) ([]byte, error) { return nil, persist.ErrNotFound }
func (failingKV) Set(context.Context, string, []byte) error  { return errors.New("disk full") }
func (failingKV) Delete(context.Context, string) error       { return errors.New("disk full") }

func appendN(t *testing.T, s *conversation.Store, n int) {
	t.Helper()
	for i := range n {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		if err := s.Append(context.Background(), conversation.Turn{Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
}

func TestStore_CapNeverExceeded(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{2, 3, 5, 20} {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			t.Parallel()

			s := conversation.NewStore(persist.NewMemory(), conversation.WithMaxTurns(limit))
			for i := range 3 * limit {
				appendN(t, s, 1)
				if got := s.Len(); got > limit {
					t.Fatalf("after %d appends Len() = %d, want <= %d", i+1, got, limit)
				}
			}
		})
	}
}

func TestStore_EvictionKeepsFirstAndRecentTail(t *testing.T) {
	t.Parallel()

	s := conversation.NewStore(persist.NewMemory(), conversation.WithMaxTurns(4))
	appendN(t, s, 7) // m0..m6

	got := s.All()
	want := []string{"m0", "m4", "m5", "m6"}
	if len(got) != len(want) {
		t.Fatalf("All() len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("All()[%d] = %q, want %q", i, got[i].Content, w)
		}
	}
}

func TestStore_MaxTurnsClamped(t *testing.T) {
	t.Parallel()

	s := conversation.NewStore(persist.NewMemory(), conversation.WithMaxTurns(1))
	if s.MaxTurns() != conversation.MinMaxTurns {
		t.Fatalf("MaxTurns() = %d, want %d", s.MaxTurns(), conversation.MinMaxTurns)
	}

	appendN(t, s, 3)
	all := s.All()
	if all[len(all)-1].Content != "m2" {
		t.Errorf("newest turn evicted: %+v", all)
	}

	s.SetMaxTurns(context.Background(), 0)
	if s.MaxTurns() != conversation.DefaultMaxTurns {
		t.Errorf("SetMaxTurns(0) -> %d, want default %d", s.MaxTurns(), conversation.DefaultMaxTurns)
	}
}

func TestStore_LoweringCapTrimsAtOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := persist.NewMemory()
	s := conversation.NewStore(kv, conversation.WithMaxTurns(10))
	appendN(t, s, 8)

	s.SetMaxTurns(ctx, 4)
	if s.Len() != 4 {
		t.Fatalf("Len() = %d after lowering the cap, want 4", s.Len())
	}
	want := []string{"m0", "m5", "m6", "m7"}
	for i, turn := range s.All() {
		if turn.Content != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, turn.Content, want[i])
		}
	}

	reloaded := conversation.NewStore(kv, conversation.WithMaxTurns(10))
	if n := reloaded.Load(ctx); n != 4 {
		t.Errorf("persisted transcript has %d turns, want 4", n)
	}

	s.SetMaxTurns(ctx, 20)
	if s.Len() != 4 {
		t.Errorf("raising the cap changed Len() to %d", s.Len())
	}
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := persist.NewMemory()

	first := conversation.NewStore(kv, conversation.WithMaxTurns(5))
	appendN(t, first, 8)

	// Simulated restart: a fresh store over the same backing entry.
	second := conversation.NewStore(kv, conversation.WithMaxTurns(5))
	if n := second.Load(ctx); n != 5 {
		t.Fatalf("Load() = %d, want 5", n)
	}

	a, b := first.All(), second.All()
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("turn %d: before restart %+v, after %+v", i, a[i], b[i])
		}
	}
}

func TestStore_LoadCorruptResetsToEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "{{{"},
		{name: "wrong shape", data: `{"role":"user"}`},
		{name: "unknown role", data: `[{"role":"robot","content":"x"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			kv := persist.NewMemory()
			_ = kv.Set(ctx, conversation.DefaultKey, []byte(tt.data))

			s := conversation.NewStore(kv)
			if n := s.Load(ctx); n != 0 {
				t.Fatalf("Load() = %d, want 0", n)
			}
			if s.Len() != 0 {
				t.Errorf("Len() = %d, want 0", s.Len())
			}
		})
	}
}

func TestStore_LoadMissingEntry(t *testing.T) {
	t.Parallel()

	s := conversation.NewStore(persist.NewMemory())
	if n := s.Load(context.Background()); n != 0 {
		t.Fatalf("Load() = %d, want 0", n)
	}
}

func TestStore_AppendRejectsInvalidRole(t *testing.T) {
	t.Parallel()

	s := conversation.NewStore(persist.NewMemory())
	err := s.Append(context.Background(), conversation.Turn{Role: "robot", Content: "beep"})
	if !errors.Is(err, conversation.ErrInvalidRole) {
		t.Fatalf("Append: err = %v, want ErrInvalidRole", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestStore_ClearErasesPersistedEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := persist.NewMemory()
	s := conversation.NewStore(kv)
	appendN(t, s, 3)

	s.Clear(ctx)

	if s.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", s.Len())
	}
	if _, err := kv.Get(ctx, conversation.DefaultKey); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("persisted entry still present: err = %v", err)
	}
}

func TestStore_PersistFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	s := conversation.NewStore(failingKV{})
	if err := s.Append(context.Background(), conversation.UserTurn("hello")); err != nil {
		t.Fatalf("Append with failing KV: %v", err)
	}
	s.Clear(context.Background())
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestStore_Recent(t *testing.T) {
	t.Parallel()

	s := conversation.NewStore(persist.NewMemory())
	appendN(t, s, 5)

	tests := []struct {
		n         int
		wantLen   int
		wantFirst string
	}{
		{n: 0, wantLen: 0},
		{n: 2, wantLen: 2, wantFirst: "m3"},
		{n: 5, wantLen: 5, wantFirst: "m0"},
		{n: 50, wantLen: 5, wantFirst: "m0"},
	}
	for _, tt := range tests {
		got := s.Recent(tt.n)
		if len(got) != tt.wantLen {
			t.Errorf("Recent(%d) len = %d, want %d", tt.n, len(got), tt.wantLen)
			continue
		}
		if tt.wantLen > 0 && got[0].Content != tt.wantFirst {
			t.Errorf("Recent(%d)[0] = %q, want %q", tt.n, got[0].Content, tt.wantFirst)
		}
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	s := conversation.NewStore(persist.NewMemory(), conversation.WithMaxTurns(10))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(context.Background(), conversation.UserTurn(fmt.Sprintf("u%d", i)))
		}()
	}
	wg.Wait()

	if s.Len() != 10 {
		t.Errorf("Len() = %d, want 10", s.Len())
	}
}
