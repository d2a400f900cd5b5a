package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/octoprompt/octostream/internal/testutil"
)

func TestParseErrorEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    ErrorEnvelope
		ok      bool
	}{
		{
			name:    "openai",
			payload: `{"error":{"message":"Rate limit","type":"requests","code":"rate_limit_exceeded"}}`,
			want:    ErrorEnvelope{Type: "requests", Code: "rate_limit_exceeded", Message: "Rate limit"},
			ok:      true,
		},
		{
			name:    "anthropic",
			payload: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			want:    ErrorEnvelope{Type: "overloaded_error", Message: "Overloaded"},
			ok:      true,
		},
		{
			name:    "gemini",
			payload: `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`,
			want:    ErrorEnvelope{Type: "INVALID_ARGUMENT", Code: "400", Message: "API key not valid"},
			ok:      true,
		},
		{
			name:    "ollama",
			payload: `{"error":"model 'llama9' not found"}`,
			want:    ErrorEnvelope{Message: "model 'llama9' not found"},
			ok:      true,
		},
		{name: "null error", payload: `{"error":null,"choices":[]}`},
		{name: "no error", payload: `{"choices":[{"delta":{"content":"hi"}}]}`},
		{name: "not json", payload: `[DONE]`},
		{name: "truncated", payload: `{"error":{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseErrorEnvelope(tt.payload)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("envelope = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSSEData(t *testing.T) {
	if p, ok := SSEData("data: {\"a\":1}"); !ok || p != `{"a":1}` {
		t.Fatalf("unexpected payload %q %v", p, ok)
	}
	if p, ok := SSEData("data:[DONE]"); !ok || p != "[DONE]" {
		t.Fatalf("unexpected payload %q %v", p, ok)
	}
	if _, ok := SSEData("event: message_stop"); ok {
		t.Fatalf("event line must not be treated as data")
	}
}

func TestPostStreamRejected(t *testing.T) {
	srv := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))

	_, err := PostStream(context.Background(), srv.Client(), "openai", srv.URL+"/chat/completions", nil, map[string]any{"model": "x"})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %T %v", err, err)
	}
	if upErr.StatusCode != http.StatusUnauthorized || upErr.Code != "invalid_api_key" || upErr.Message != "Invalid API key" {
		t.Fatalf("unexpected upstream error: %+v", upErr)
	}
}

func TestPostStreamPlainTextRejection(t *testing.T) {
	srv := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))

	_, err := PostStream(context.Background(), srv.Client(), "groq", srv.URL, nil, map[string]any{})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.Message != "bad gateway" {
		t.Fatalf("message = %q", upErr.Message)
	}
	if got := upErr.Error(); got != "groq: http 502: bad gateway" {
		t.Fatalf("error string = %q", got)
	}
}

func TestPostStreamConnectionFailure(t *testing.T) {
	srv := testutil.NewIPv4Server(t, nil)
	url := srv.URL
	srv.Close()

	_, err := PostStream(context.Background(), NewHTTPClient(0), "ollama", url, nil, map[string]any{})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upErr.StatusCode != 0 || upErr.Err == nil {
		t.Fatalf("expected connection failure, got %+v", upErr)
	}
}

func TestPostStreamSetsHeadersAndReturnsBody(t *testing.T) {
	srv := testutil.NewIPv4Server(t, testutil.ChunkedHandler(t, "text/event-stream", []string{"data: a\n\n"}, func(r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
	}))

	headers := http.Header{}
	headers.Set("x-api-key", "secret")
	body, err := PostStream(context.Background(), srv.Client(), "anthropic", srv.URL, headers, map[string]any{})
	if err != nil {
		t.Fatalf("PostStream: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "data: a\n\n" {
		t.Fatalf("body = %q", data)
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{Model: "gpt-4o", Temperature: Float(0.2), Extra: map[string]any{"seed": 1}}
	got := opts.WithDefaults(Options{
		Model:     "ignored",
		MaxTokens: Int(10000),
		TopP:      Float(1),
		Extra:     map[string]any{"seed": 9, "user": "u"},
	})
	if got.Model != "gpt-4o" || *got.Temperature != 0.2 || *got.MaxTokens != 10000 || *got.TopP != 1 {
		t.Fatalf("unexpected options: %+v", got)
	}
	if got.Extra["seed"] != 1 || got.Extra["user"] != "u" {
		t.Fatalf("unexpected extra: %+v", got.Extra)
	}
}

func TestStreamRequestMessages(t *testing.T) {
	req := StreamRequest{
		Message: "now",
		System:  "be brief",
		History: []Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}},
	}
	msgs := req.Messages()
	if len(msgs) != 4 || msgs[0].Role != "system" || msgs[3] != (Message{Role: "user", Content: "now"}) {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if err := (StreamRequest{}).Validate(); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "http://h/v1beta/models/m:streamGenerateContent?alt=sse&key=abc", want: "http://h/v1beta/models/m:streamGenerateContent?alt=sse&key=REDACTED"},
		{in: "http://h/chat?api_key=abc", want: "http://h/chat?api_key=REDACTED"},
		{in: "http://h/chat?alt=sse", want: "http://h/chat?alt=sse"},
		{in: "http://h/chat", want: "http://h/chat"},
	}
	for _, tt := range tests {
		if got := RedactURL(tt.in); got != tt.want {
			t.Errorf("RedactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
