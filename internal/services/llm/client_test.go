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

func completionServer(t *testing.T, content func(call int) map[string]any) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := json.NewEncoder(w).Encode(content(calls)); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func messageChoice(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"finish_reason": "stop",
				"message":       map[string]any{"content": content},
			},
		},
	}
}

func TestCompleteJSONReturnsFencedContentVerbatim(t *testing.T) {
	server, _ := completionServer(t, func(int) map[string]any { return messageChoice("```json\n{\"ok\":true}\n```") })
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"})
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(content, &parsed); err != nil || !parsed.OK {
		t.Fatalf("DecodeJSON(%q) = %v, ok=%v", content, err, parsed.OK)
	}
}

func TestCompleteJSONUsesPerRequestCredential(t *testing.T) {
	var gotAuth, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = body.Model
		_ = json.NewEncoder(w).Encode(messageChoice(`{"overall_band":6}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "default-key", BaseURL: server.URL, Model: "default-model"})
	content, err := client.CompleteJSON(context.Background(), Request{
		System: "score", User: "transcript", Model: "pro-model", APIKey: "cred-key",
	})
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if gotAuth != "Bearer cred-key" || gotModel != "pro-model" {
		t.Fatalf("request used %q / %q", gotAuth, gotModel)
	}
	if content != `{"overall_band":6}` {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestCompleteJSONRequiresKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Model: "m"})
	if _, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"}); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestCompleteJSONToolCallsArguments(t *testing.T) {
	server, _ := completionServer(t, func(int) map[string]any {
		return map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "tool_calls",
					"message": map[string]any{
						"content": "",
						"tool_calls": []any{
							map[string]any{
								"type": "function",
								"id":   "call_1",
								"function": map[string]any{
									"name":      "submit_scores",
									"arguments": `{"overall_band":5.5}`,
								},
							},
						},
					},
				},
			},
		}
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"})
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if !strings.Contains(content, "overall_band") {
		t.Fatalf("expected tool arguments, got %q", content)
	}
}

func TestCompleteJSONRefusalIsEmptyContent(t *testing.T) {
	server, calls := completionServer(t, func(int) map[string]any {
		return map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message":       map[string]any{"content": "", "refusal": "cannot score this"},
				},
			},
		}
	})
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryMaxAttempts(1),
	)
	_, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"})
	if !IsEmptyContent(err) || !strings.Contains(err.Error(), "cannot score this") {
		t.Fatalf("expected empty-content error carrying the refusal, got %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected one call, got %d", *calls)
	}
}

func TestCompleteJSONEmptyContentHasSnippet(t *testing.T) {
	server, _ := completionServer(t, func(int) map[string]any { return messageChoice("") })
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
	)
	_, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"})
	if err == nil {
		t.Fatal("expected empty content failure")
	}
	if !IsEmptyContent(err) || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error with snippet, got %v", err)
	}
}

func TestClientDoesNotRetryRateLimit(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded for today"}}`))
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryNotify(func(error, time.Duration) { t.Error("rate limits must not be retried inside the client") }),
		WithRetryMaxAttempts(5),
	)
	_, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if statusErr.HTTPStatus() != http.StatusTooManyRequests || statusErr.RetryAfterHint() != 7*time.Second {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if !strings.Contains(statusErr.ResponseBody(), "quota exceeded") {
		t.Fatalf("body not preserved: %q", statusErr.ResponseBody())
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(messageChoice(`{"ok":true}`))
	}))
	defer server.Close()

	var delays []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryNotify(func(_ error, d time.Duration) { delays = append(delays, d) }),
		WithRetryBackoff(20*time.Millisecond, 200*time.Millisecond),
	)
	if _, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"}); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if calls != 2 || len(delays) != 1 {
		t.Fatalf("calls=%d delays=%v", calls, delays)
	}
	if delays[0] < 10*time.Millisecond || delays[0] > 30*time.Millisecond {
		t.Fatalf("first delay %s outside the jitter window around 20ms", delays[0])
	}
}

func TestClientRetryDelaysAreJittered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var runs [][]time.Duration
	for range 3 {
		var delays []time.Duration
		client := NewClient(
			Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
			WithRetryMaxAttempts(4),
			WithRetryBackoff(4*time.Millisecond, 40*time.Millisecond),
			WithRetryNotify(func(_ error, d time.Duration) { delays = append(delays, d) }),
		)
		var statusErr *StatusError
		if _, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"}); !errors.As(err, &statusErr) {
			t.Fatalf("expected StatusError after retries, got %v", err)
		}
		if len(delays) != 3 {
			t.Fatalf("expected 3 retry waits, got %v", delays)
		}
		runs = append(runs, delays)
	}
	identical := true
	for _, run := range runs[1:] {
		for i := range run {
			if run[i] != runs[0][i] {
				identical = false
			}
		}
	}
	if identical {
		t.Fatalf("retry delays should be jittered, every run waited %v", runs[0])
	}
}

func TestClientRetryAfterHintIsCapped(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(messageChoice(`{"ok":true}`))
	}))
	defer server.Close()

	var delays []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(time.Millisecond, 15*time.Millisecond),
		WithRetryNotify(func(_ error, d time.Duration) { delays = append(delays, d) }),
	)
	if _, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"}); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if len(delays) != 1 || delays[0] != 15*time.Millisecond {
		t.Fatalf("expected Retry-After capped to 15ms, got %v", delays)
	}
}

func TestClientRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	server, calls := completionServer(t, func(call int) map[string]any {
		if call >= 3 {
			return messageChoice(`{"ok":true}`)
		}
		return messageChoice("")
	})
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
	)
	if _, err := client.CompleteJSON(context.Background(), Request{System: "s", User: "u"}); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if *calls != 3 {
		t.Fatalf("expected 3 calls, got %d", *calls)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{name: "plain", content: `{"band":6}`},
		{name: "fenced", content: "```json\n{\"band\":6}\n```"},
		{name: "prefixed", content: "Here are the scores: {\"band\":6} hope this helps"},
		{name: "empty", content: "  ", wantErr: true},
		{name: "garbage", content: "not json at all", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Band float64 `json:"band"`
			}
			err := DecodeJSON(tt.content, &out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || out.Band != 6 {
				t.Fatalf("DecodeJSON = %v, band %v", err, out.Band)
			}
		})
	}
}
