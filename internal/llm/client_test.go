package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/trialdata/aactschema/internal/secrets"
)

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		cfg      *secrets.Provider
		wantErr  bool
	}{
		{
			name:     "nil provider config",
			provider: "claude",
			cfg:      nil,
			wantErr:  true,
		},
		{
			name:     "cloud provider without API key",
			provider: "claude",
			cfg:      &secrets.Provider{},
			wantErr:  true,
		},
		{
			name:     "cloud provider with API key",
			provider: "claude",
			cfg:      &secrets.Provider{APIKey: "test-key"},
			wantErr:  false,
		},
		{
			name:     "local provider without API key",
			provider: "ollama",
			cfg:      &secrets.Provider{BaseURL: "http://localhost:11434"},
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.provider, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatOpenAICompatible(t *testing.T) {
	var gotReq openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "SELECT 1"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient("lmstudio", &secrets.Provider{BaseURL: server.URL, Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := client.Chat(context.Background(), "you are a SQL expert", "write a query", 256, 0)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "SELECT 1" {
		t.Errorf("Chat() = %q, want %q", got, "SELECT 1")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("request must carry system+user messages, got %+v", gotReq.Messages)
	}
	if gotReq.MaxTokens != 256 {
		t.Errorf("max tokens = %d, want 256", gotReq.MaxTokens)
	}
}

func TestChatClaude(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing x-api-key header")
		}
		var req claudeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.System == "" {
			t.Error("system prompt not forwarded")
		}
		resp := map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "[\"studies\"]"}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient("claude", &secrets.Provider{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	got, err := client.Chat(context.Background(), "pick tables", "what studies exist?", 512, 0)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "[\"studies\"]" {
		t.Errorf("Chat() = %q", got)
	}
}

func TestChatRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient("lmstudio", &secrets.Provider{BaseURL: server.URL, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := client.Chat(context.Background(), "", "hello", 16, 0)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "ok" {
		t.Errorf("Chat() = %q, want ok", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("got %d calls, want 2 (one retry)", calls)
	}
}

func TestChatAPIErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"error": map[string]string{"message": "model not loaded"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient("lmstudio", &secrets.Provider{BaseURL: server.URL, Model: "m"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Chat(context.Background(), "", "hello", 16, 0)
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("API error must surface, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		want       bool
	}{
		{"server error", nil, 500, true},
		{"rate limit", nil, 429, true},
		{"client error", nil, 400, false},
		{"nil error ok status", nil, 200, false},
		{"deadline exceeded", context.DeadlineExceeded, 0, true},
		{"connection refused message", errors.New("dial tcp: connection refused"), 0, true},
		{"plain error", errors.New("invalid request"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err, tt.statusCode); got != tt.want {
				t.Errorf("isRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateBackoffBounds(t *testing.T) {
	for attempt := 0; attempt < 6; attempt++ {
		d := calculateBackoff(attempt)
		if d <= 0 {
			t.Errorf("attempt %d: non-positive delay %v", attempt, d)
		}
		if d > defaultMaxDelay+defaultMaxDelay/4 {
			t.Errorf("attempt %d: delay %v exceeds cap with jitter", attempt, d)
		}
	}
}

func TestOpenAIEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:11434", "http://localhost:11434/v1/chat/completions"},
		{"http://localhost:1234/v1", "http://localhost:1234/v1/chat/completions"},
		{"http://localhost:1234/v1/", "http://localhost:1234/v1/chat/completions"},
	}
	for _, tt := range tests {
		if got := openAIEndpoint(tt.base); got != tt.want {
			t.Errorf("openAIEndpoint(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestSanitizeErrorResponse(t *testing.T) {
	body := []byte(`{"error": "invalid key sk-abc123def456ghi789jkl012mno345pqr678stu901"}`)
	got := sanitizeErrorResponse(body, 200)
	if strings.Contains(got, "sk-abc123") {
		t.Errorf("API key leaked into sanitized output: %q", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("expected redaction marker: %q", got)
	}

	long := []byte(strings.Repeat("a", 500))
	got = sanitizeErrorResponse(long, 100)
	if len(got) > 110 {
		t.Errorf("long body not truncated: %d bytes", len(got))
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", "SELECT 1", "SELECT 1"},
		{"plain fences", "```\nSELECT 1\n```", "SELECT 1"},
		{"sql tag", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"json tag", "```json\n[\"studies\"]\n```", "[\"studies\"]"},
		{"surrounding whitespace", "  ```sql\nSELECT 1\n```  ", "SELECT 1"},
		{"single line fenced", "```SELECT 1```", "SELECT 1"},
		{"multiline body", "```sql\nSELECT *\nFROM ctgov.studies\n```", "SELECT *\nFROM ctgov.studies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
