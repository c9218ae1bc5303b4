package security

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRedactor_Redact(t *testing.T) {
	t.Parallel()

	r := NewRedactor()
	r.AddLiteral("hunter2-literal")

	tests := []struct {
		name   string
		in     string
		want   string
		absent string
	}{
		{name: "openai key", in: "key sk-abcdefghijklmnopqrstuvwxyz", want: "key [REDACTED]", absent: "sk-abc"},
		{name: "anthropic key", in: "sk-ant-REDACTED", want: "[REDACTED]", absent: "api03"},
		{name: "bearer keeps scheme", in: "Authorization: Bearer abcdefgh12345678", want: "Authorization: Bearer [REDACTED]", absent: "abcdefgh"},
		{name: "query param", in: "GET /api/chat?q=hi&api_key=xyz789", want: "GET /api/chat?q=hi&api_key=[REDACTED]", absent: "xyz789"},
		{name: "literal", in: "using hunter2-literal now", want: "using [REDACTED] now"},
		{name: "clean", in: "nothing to see", want: "nothing to see"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := r.Redact(tt.in)
			if got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if tt.absent != "" && strings.Contains(got, tt.absent) {
				t.Errorf("Redact(%q) leaked %q", tt.in, tt.absent)
			}
		})
	}
}

func TestRedactor_AddLiteralIgnoresEmptyAndDuplicates(t *testing.T) {
	t.Parallel()

	r := &Redactor{}
	r.AddLiteral("")
	r.AddLiteral("abc")
	r.AddLiteral("abc")
	if len(r.literals) != 1 {
		t.Errorf("literals = %v, want one entry", r.literals)
	}
}

func TestRedactingHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRedactor()
	r.AddLiteral("persistent-secret")
	logger := slog.New(NewRedactingHandler(slog.NewTextHandler(&buf, nil), r))

	logger.With("api_key", "persistent-secret").
		WithGroup("req").
		Info("calling sk-abcdefghijklmnopqrstuvwxyz",
			"header", "Bearer tokentokentoken",
			"err", errors.New("failed with persistent-secret"),
			slog.Group("nested", "value", "persistent-secret"),
			"safe", "visible",
		)

	out := buf.String()
	for _, leaked := range []string{"persistent-secret", "sk-abcdef", "tokentokentoken"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("safe value missing: %s", out)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2)
	rl.now = func() time.Time { return now }

	for i := range 2 {
		if err := rl.Allow("10.0.0.1"); err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
	}
	if err := rl.Allow("10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third Allow = %v, want ErrRateLimited", err)
	}
	if err := rl.Allow("10.0.0.2"); err != nil {
		t.Fatalf("other key: %v", err)
	}

	now = now.Add(time.Minute + time.Second)
	if err := rl.Allow("10.0.0.1"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestRateLimiter_DefaultLimit(t *testing.T) {
	t.Parallel()

	if got := NewRateLimiter(0).Limit(); got != DefaultMessagesPerMin {
		t.Errorf("Limit = %d, want %d", got, DefaultMessagesPerMin)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(50)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("k") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		limits  Limits
		wantErr error
	}{
		{name: "flat", data: `{"message":"hi"}`, limits: Limits{MaxDepth: 2}},
		{name: "at depth limit", data: `{"message":"hi","x":[1]}`, limits: Limits{MaxDepth: 2}},
		{name: "brackets in strings", data: `{"message":"[[[[{{{{"}`, limits: Limits{MaxDepth: 1}},
		{name: "escaped quote", data: `{"message":"a\"[[[["}`, limits: Limits{MaxDepth: 1}},
		{name: "too deep", data: `{"message":"hi","x":[[1]]}`, limits: Limits{MaxDepth: 2}, wantErr: ErrJSONTooDeep},
		{name: "default depth", data: strings.Repeat("[", DefaultMaxJSONDepth+1) + strings.Repeat("]", DefaultMaxJSONDepth+1), wantErr: ErrJSONTooDeep},
		{name: "at size limit", data: `{"message":"hi"}`, limits: Limits{MaxBytes: 16}},
		{name: "too large", data: `{"message":"hi!"}`, limits: Limits{MaxBytes: 16}, wantErr: ErrMessageTooLarge},
		{name: "truncated", data: `{"message":`, wantErr: ErrInvalidJSON},
		{name: "empty", data: ``, wantErr: ErrInvalidJSON},
		{name: "trailing data", data: `{"message":"a"} {"message":"b"}`, wantErr: ErrInvalidJSON},
		{name: "wrong type", data: `{"message":42}`, wantErr: ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var v struct {
				Message string `json:"message"`
			}
			err := DecodeJSON(strings.NewReader(tt.data), &v, tt.limits)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
