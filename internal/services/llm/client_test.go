package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func writeChoice(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	payload := map[string]any{
		"choices": []any{
			map[string]any{
				"message":       map[string]any{"content": content},
				"finish_reason": "stop",
			},
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestClientCompleteSendsJSONModeRequest(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if title := r.Header.Get("X-Title"); title != "Archivist" {
			t.Errorf("unexpected title header %q", title)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		writeChoice(t, w, `{"title":"Poster"}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL, Title: "Archivist"})
	content, err := client.Complete(context.Background(), Request{
		Model:       "demo-model",
		System:      "You catalog objects.",
		Prompt:      "Describe the item.",
		Temperature: 0.2,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if content != `{"title":"Poster"}` {
		t.Fatalf("unexpected content %q", content)
	}
	if got["model"] != "demo-model" {
		t.Fatalf("unexpected model %v", got["model"])
	}
	format, _ := got["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", got["response_format"])
	}
	messages, _ := got["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
	if got["max_tokens"] != float64(100) {
		t.Fatalf("unexpected max_tokens %v", got["max_tokens"])
	}
}

func TestClientCompleteAttachesImages(t *testing.T) {
	var got struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		writeChoice(t, w, `{}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), Request{
		Model:  "m",
		Prompt: "look",
		Images: []Image{{Name: "a.png", MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected one user message, got %d", len(got.Messages))
	}
	var parts []contentPart
	if err := json.Unmarshal(got.Messages[0].Content, &parts); err != nil {
		t.Fatalf("expected multi-part content: %v", err)
	}
	if len(parts) != 2 || parts[0].Type != "text" || parts[1].Type != "image_url" {
		t.Fatalf("unexpected parts %+v", parts)
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("unexpected image url %q", parts[1].ImageURL.URL)
	}
}

func TestClientCompleteToolCallFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{
								"type":     "function",
								"function": map[string]any{"name": "emit", "arguments": `{"year":1920}`},
							},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	content, err := client.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if content != `{"year":1920}` {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestClientCompleteRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", statusErr.StatusCode)
	}
	if !IsTransient(err) {
		t.Fatal("expected 429 to be transient")
	}
	if delay, ok := RetryAfter(err); !ok || delay != 7*time.Second {
		t.Fatalf("unexpected retry-after %v (ok=%v)", delay, ok)
	}
}

func TestClientCompleteUnauthorizedIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Fatalf("expected 401 to be permanent: %v", err)
	}
}

func TestClientCompleteEmptyContentIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChoice(t, w, "")
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	var emptyErr *EmptyContentError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("expected EmptyContentError, got %v", err)
	}
	if emptyErr.FinishReason != "stop" {
		t.Fatalf("unexpected finish reason %q", emptyErr.FinishReason)
	}
	if !IsTransient(err) {
		t.Fatal("expected empty content to be transient")
	}
}

func TestClientCompleteRequiresPromptAndKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Complete(context.Background(), Request{Model: "m", Prompt: "p"}); err == nil {
		t.Fatal("expected missing api key error")
	}
	client = NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Complete(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatal("expected missing prompt error")
	}
}

func TestClientSettingsComeFromConfig(t *testing.T) {
	client := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 7})
	if got := client.timeoutDuration(); got != 7*time.Second {
		t.Fatalf("timeout = %v, want 7s", got)
	}
	if got := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"}).timeoutDuration(); got != 0 {
		t.Fatalf("zero timeout_seconds should disable the timeout, got %v", got)
	}
	if _, err := NewClient(Config{APIKey: "k"}).Complete(context.Background(), Request{Model: "m", Prompt: "p"}); err == nil || !strings.Contains(err.Error(), "base url") {
		t.Fatalf("expected missing base url error, got %v", err)
	}
}

func TestIsTransientIgnoresCancellation(t *testing.T) {
	if IsTransient(context.Canceled) {
		t.Fatal("cancellation must not be retried")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be transient")
	}
	if !IsTransient(&StatusError{StatusCode: 503}) {
		t.Fatal("503 should be transient")
	}
	if IsTransient(&StatusError{StatusCode: 400}) {
		t.Fatal("400 should be permanent")
	}
}

func TestAnthropicClientComplete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if key := r.Header.Get("X-Api-Key"); key != "anthropic-key" {
			t.Errorf("unexpected api key header %q", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"country\":\"France\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(Config{APIKey: "anthropic-key", BaseURL: server.URL})
	if client.Kind() != KindAnthropic {
		t.Fatalf("unexpected kind %q", client.Kind())
	}
	content, err := client.Complete(context.Background(), Request{
		Model:     "claude-test",
		System:    "sys",
		Prompt:    "where?",
		MaxTokens: 64,
		Images:    []Image{{MediaType: "image/jpeg", Data: []byte{0xff, 0xd8}}},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if content != `{"country":"France"}` {
		t.Fatalf("unexpected content %q", content)
	}
	if got["model"] != "claude-test" {
		t.Fatalf("unexpected model %v", got["model"])
	}
	if got["max_tokens"] != float64(64) {
		t.Fatalf("unexpected max_tokens %v", got["max_tokens"])
	}
}

func TestAnthropicClientServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || !IsTransient(err) {
		t.Fatalf("expected transient 503, got %v", err)
	}
}
