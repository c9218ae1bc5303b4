package settings

import (
	"errors"
	"testing"
	"time"

	"github.com/flemzord/chatbot/internal/dispatch"
)

func TestFromConfig(t *testing.T) {
	t.Parallel()

	cfg := dispatch.DefaultConfig()
	cfg.APIKey = "sk-secret"
	v := FromConfig(cfg)

	if v.Method != "GET" {
		t.Errorf("Method = %q, want GET", v.Method)
	}
	if v.Temperature != "0.7" {
		t.Errorf("Temperature = %q, want 0.7", v.Temperature)
	}
	if v.RetryDelay != "2s" {
		t.Errorf("RetryDelay = %q, want 2s", v.RetryDelay)
	}
	if v.APIKey != "" {
		t.Error("APIKey must not be prefilled")
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	base := dispatch.DefaultConfig()
	base.APIKey = "sk-old"
	base.Headers = map[string]string{"X-Team": "a"}

	v := FromConfig(base)
	v.Endpoint = "  https://llm.example.com/v1/chat  "
	v.Method = "POST"
	v.Temperature = "1.2"
	v.MaxRetries = "5"
	v.RetryDelay = "500ms"
	v.MaxHistory = "40"
	v.AllowFallback = false

	got, err := v.Apply(base)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Endpoint != "https://llm.example.com/v1/chat" {
		t.Errorf("Endpoint = %q", got.Endpoint)
	}
	if got.Method != dispatch.MethodPost {
		t.Errorf("Method = %q, want POST", got.Method)
	}
	if got.Temperature != 1.2 || got.MaxRetries != 5 || got.MaxHistory != 40 {
		t.Errorf("numbers not applied: %+v", got)
	}
	if got.RetryDelay != 500*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 500ms", got.RetryDelay)
	}
	if got.AllowFallback {
		t.Error("AllowFallback should be false")
	}
	if got.APIKey != "sk-old" {
		t.Errorf("APIKey = %q, want the current key kept", got.APIKey)
	}
	if got.Headers["X-Team"] != "a" {
		t.Error("fields outside the form should be kept")
	}
}

func TestApply_NewAPIKey(t *testing.T) {
	t.Parallel()

	base := dispatch.DefaultConfig()
	base.APIKey = "sk-old"
	v := FromConfig(base)
	v.APIKey = "sk-new"

	got, err := v.Apply(base)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.APIKey != "sk-new" {
		t.Errorf("APIKey = %q, want sk-new", got.APIKey)
	}
}

func TestApply_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Values)
	}{
		{"bad temperature", func(v *Values) { v.Temperature = "warm" }},
		{"bad retries", func(v *Values) { v.MaxRetries = "three" }},
		{"bad delay", func(v *Values) { v.RetryDelay = "2" }},
		{"bad history", func(v *Values) { v.MaxHistory = "" }},
		{"out of range", func(v *Values) { v.Temperature = "3" }},
		{"history too small", func(v *Values) { v.MaxHistory = "1" }},
		{"no endpoint without fallback", func(v *Values) {
			v.Endpoint = ""
			v.AllowFallback = false
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			base := dispatch.DefaultConfig()
			v := FromConfig(base)
			tt.mutate(&v)

			got, err := v.Apply(base)
			if err == nil {
				t.Fatal("expected error")
			}
			if got.Model != base.Model || got.Temperature != base.Temperature {
				t.Error("base configuration should be returned on error")
			}
		})
	}
}

func TestApply_InvalidConfigIsClassified(t *testing.T) {
	t.Parallel()

	base := dispatch.DefaultConfig()
	v := FromConfig(base)
	v.MaxRetries = "50"

	_, err := v.Apply(base)
	if !errors.Is(err, dispatch.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestNewForm(t *testing.T) {
	t.Parallel()

	v := FromConfig(dispatch.DefaultConfig())
	if NewForm(&v) == nil {
		t.Fatal("NewForm returned nil")
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()

	if validateFloat("0.5") != nil || validateFloat("x") == nil {
		t.Error("validateFloat")
	}
	if validateInt("3") != nil || validateInt("3.5") == nil {
		t.Error("validateInt")
	}
	if validateDuration("1s") != nil || validateDuration("1") == nil {
		t.Error("validateDuration")
	}
}
