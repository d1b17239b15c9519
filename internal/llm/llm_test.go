package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseJSONArrayPlain(t *testing.T) {
	result, err := ParseJSONArray(`[{"category": "Billing", "grade": "A"}, {"category": "Care", "grade": "B-"}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result))
	}
	if result[1]["grade"] != "B-" {
		t.Errorf("expected grade B-, got %v", result[1]["grade"])
	}
}

func TestParseJSONArrayWithCodeFence(t *testing.T) {
	text := "```json\n[{\"category\": \"Billing\"}]\n```"
	result, err := ParseJSONArray(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result[0]["category"] != "Billing" {
		t.Errorf("expected Billing, got %v", result[0]["category"])
	}
}

func TestParseJSONArrayWithPlainFence(t *testing.T) {
	result, err := ParseJSONArray("```\n[]\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected empty array, got %v", result)
	}
}

func TestParseJSONArrayRejectsObject(t *testing.T) {
	if _, err := ParseJSONArray(`{"category": "Billing"}`); err == nil {
		t.Error("expected error for object response")
	}
}

func TestParseJSONArrayRejectsNonObjectElement(t *testing.T) {
	if _, err := ParseJSONArray(`[{"category": "Billing"}, "B"]`); err == nil {
		t.Error("expected error for string element")
	}
}

func TestParseJSONArrayInvalid(t *testing.T) {
	if _, err := ParseJSONArray("not json at all"); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseJSONArray("   "); err == nil {
		t.Error("expected error for blank response")
	}
}

func TestStripCodeFenceUnterminated(t *testing.T) {
	got := StripCodeFence("```json\n[1, 2]")
	if got != "[1, 2]" {
		t.Errorf("expected fence stripped, got %q", got)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Options{Provider: "bard"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestCreateProviderFallback(t *testing.T) {
	p, err := CreateProvider(Options{
		Provider: "openai",
		Fallback: &Options{Provider: "anthropic", APIKey: "sk-ant-test"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*AnthropicProvider); !ok {
		t.Errorf("expected anthropic fallback, got %T", p)
	}
}

func TestCreateProviderNone(t *testing.T) {
	p, err := CreateProvider(Options{Provider: "openai"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil provider, got %T", p)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"- Friendly staff"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Options{Model: "gpt-test", APIKey: "sk-test", BaseURL: srv.URL, Timeout: DefaultTimeout}, nil)
	text, err := p.Generate(context.Background(), "system text", "user text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "- Friendly staff" {
		t.Errorf("unexpected text %q", text)
	}
	if got.Model != "gpt-test" || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "system text" {
		t.Errorf("expected system message first, got %+v", got.Messages[0])
	}
}

func TestOpenAIGenerateWithoutKey(t *testing.T) {
	p := NewOpenAIProvider(Options{}, nil)
	if p.IsConfigured() {
		t.Error("expected unconfigured provider")
	}
	if _, err := p.Generate(context.Background(), "s", "p"); err == nil {
		t.Error("expected error without API key")
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"llama3:8b"}]}`))
		case "/api/chat":
			var req ollamaRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Stream || len(req.Messages) != 2 {
				t.Errorf("unexpected request %+v", req)
			}
			w.Write([]byte(`{"message":{"role":"assistant","content":"ok"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(Options{Model: "llama3", BaseURL: srv.URL, Timeout: DefaultTimeout}, nil)
	if !p.IsConfigured() {
		t.Fatal("expected ollama to be configured")
	}
	text, err := p.Generate(context.Background(), "s", "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Errorf("expected ok, got %q", text)
	}
}

func TestAnthropicGenerate(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		apiKey = r.Header.Get("X-Api-Key")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"- Quick replies"}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":12,"output_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Options{Model: "claude-test", APIKey: "sk-ant-test", BaseURL: srv.URL, Timeout: DefaultTimeout}, nil)
	text, err := p.Generate(context.Background(), "system text", "user text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "- Quick replies" {
		t.Errorf("unexpected text %q", text)
	}
	if apiKey != "sk-ant-test" {
		t.Errorf("expected api key header, got %q", apiKey)
	}
	if got.Model != "claude-test" || got.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.System) != 1 || got.System[0].Text != "system text" {
		t.Errorf("expected system block, got %+v", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("expected one user message, got %+v", got.Messages)
	}
}

func TestAnthropicGenerateWithoutKey(t *testing.T) {
	p := NewAnthropicProvider(Options{}, nil)
	if p.IsConfigured() {
		t.Error("expected unconfigured provider")
	}
	if _, err := p.Generate(context.Background(), "s", "p"); err == nil {
		t.Error("expected error without API key")
	}
}
