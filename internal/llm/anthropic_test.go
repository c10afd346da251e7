package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnthropicChat(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"intent":"CHECKIN_QUESTION",`},
				{"type": "text", "text": `"confidence":0.9,"reasons":[]}`},
			},
			"model":       "claude-sonnet-4-20250514",
			"stop_reason": "end_turn",
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", "claude-sonnet-4-20250514", 5*time.Second, nil)
	c.baseURL = srv.URL

	got, err := c.Chat(context.Background(), ChatRequest{
		System:      "classify",
		User:        "체크인 몇 시부터 가능한가요?",
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	want := `{"intent":"CHECKIN_QUESTION","confidence":0.9,"reasons":[]}`
	if got != want {
		t.Errorf("Chat() = %q, want concatenated text blocks %q", got, want)
	}
	if gotReq.Model != "claude-sonnet-4-20250514" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if gotReq.System != "classify" {
		t.Errorf("request system = %q", gotReq.System)
	}
	if gotReq.MaxTokens != defaultMaxTokens {
		t.Errorf("request max_tokens = %d, want default %d", gotReq.MaxTokens, defaultMaxTokens)
	}
}

func TestAnthropicChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", "claude-sonnet-4-20250514", 5*time.Second, nil)
	c.baseURL = srv.URL

	if _, err := c.Chat(context.Background(), ChatRequest{User: "hi"}); err == nil {
		t.Fatal("Chat() succeeded on 503, want error")
	}
}
