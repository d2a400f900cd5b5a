package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/octoprompt/octostream/internal/adapter"
	"github.com/octoprompt/octostream/internal/testutil"
)

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil || !strings.Contains(err.Error(), "api key required") {
		t.Fatalf("expected api key error, got %v", err)
	}
	p, err := New(Config{APIKey: "sk-ant-test123", BaseURL: "https://api.anthropic.com/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.baseURL != "https://api.anthropic.com" {
		t.Errorf("baseURL = %q", p.baseURL)
	}
	if got := p.headers.Get("anthropic-version"); got != "2023-06-01" {
		t.Errorf("anthropic-version = %q", got)
	}
}

func TestParseLine(t *testing.T) {
	p, err := New(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name string
		line string
		want adapter.Delta
	}{
		{
			name: "text delta",
			line: `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
			want: adapter.Delta{Text: "Hi"},
		},
		{
			name: "input json delta",
			line: `data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"a\""}}`,
		},
		{name: "message start", line: `data: {"type":"message_start","message":{"id":"msg_1","role":"assistant"}}`},
		{name: "ping", line: `data: {"type":"ping"}`},
		{name: "event field", line: "event: content_block_delta"},
		{name: "malformed", line: `data: {"type":"content_block_delta","delta":{"type":"text_`},
		{
			name: "message stop",
			line: `data: {"type":"message_stop"}`,
			want: adapter.Delta{Done: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ParseLine(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("delta = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseLineErrorEnvelope(t *testing.T) {
	p, _ := New(Config{APIKey: "k"})
	tests := []struct {
		name string
		line string
	}{
		{name: "error event", line: `data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`},
		{name: "bare envelope", line: `data: {"error":{"type":"overloaded_error","message":"Overloaded"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ParseLine(tt.line)
			var vErr *adapter.VendorError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected VendorError, got %v", err)
			}
			if vErr.Type != "overloaded_error" || vErr.Message != "Overloaded" {
				t.Fatalf("unexpected vendor error %+v", vErr)
			}
			if got != (adapter.Delta{}) {
				t.Fatalf("delta = %+v, want empty", got)
			}
		})
	}
}

func TestParseLineIsPure(t *testing.T) {
	p, _ := New(Config{APIKey: "k"})
	lines := []string{
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
		`data: {"type":"message_stop"}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_`,
		`data: {"error":{"type":"overloaded_error","message":"Overloaded"}}`,
	}
	for _, line := range lines {
		first, firstErr := p.ParseLine(line)
		second, secondErr := p.ParseLine(line)
		if first != second {
			t.Fatalf("%s: delta %+v then %+v", line, first, second)
		}
		if fmt.Sprint(firstErr) != fmt.Sprint(secondErr) {
			t.Fatalf("%s: error %v then %v", line, firstErr, secondErr)
		}
	}
}

func TestPrepareRequest(t *testing.T) {
	var body messagesRequest
	srv := testutil.NewIPv4Server(t, testutil.ChunkedHandler(t, "text/event-stream",
		[]string{"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"},
		func(r *http.Request) {
			if r.URL.Path != "/v1/messages" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if got := r.Header.Get("x-api-key"); got != "sk-ant" {
				t.Errorf("x-api-key = %q", got)
			}
			if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
				t.Errorf("anthropic-version = %q", got)
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode: %v", err)
			}
		}))

	p, err := New(Config{APIKey: "sk-ant", BaseURL: srv.URL, DefaultModel: "claude-haiku", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rc, err := p.PrepareRequest(context.Background(), adapter.StreamRequest{
		Message: "Hello",
		System:  "You are terse.",
		History: []adapter.Message{
			{Role: "system", Content: "Answer in English."},
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello!"},
		},
	})
	if err != nil {
		t.Fatalf("PrepareRequest: %v", err)
	}
	_, _ = io.Copy(io.Discard, rc)
	rc.Close()

	if !body.Stream || body.Model != "claude-3-5-haiku-20241022" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.System != "You are terse.\n\nAnswer in English." {
		t.Fatalf("system = %q", body.System)
	}
	if len(body.Messages) != 3 || body.Messages[2].Role != "user" || body.Messages[2].Content[0].Text != "Hello" {
		t.Fatalf("messages = %+v", body.Messages)
	}
	if body.MaxTokens != defaultMaxTokens {
		t.Fatalf("max_tokens = %d, want %d", body.MaxTokens, defaultMaxTokens)
	}
}

func TestBuildRequestMaxTokens(t *testing.T) {
	p, err := New(Config{APIKey: "k", DefaultModel: "claude"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		name string
		opts adapter.Options
		want int
	}{
		{name: "alias default", want: 4096},
		{name: "caller value", opts: adapter.Options{Model: "claude-sonnet", MaxTokens: adapter.Int(8000)}, want: 8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.buildRequest(adapter.StreamRequest{Message: "hi", Options: tt.opts})
			if err != nil {
				t.Fatalf("buildRequest: %v", err)
			}
			body, ok := out.(messagesRequest)
			if !ok {
				t.Fatalf("body type %T", out)
			}
			if body.MaxTokens != tt.want {
				t.Fatalf("max_tokens = %d, want %d", body.MaxTokens, tt.want)
			}
		})
	}
}

func TestMapModelName(t *testing.T) {
	if got := mapModelName("claude-sonnet"); got != "claude-3-5-sonnet-20241022" {
		t.Fatalf("alias = %q", got)
	}
	if got := mapModelName("claude-sonnet-4-20250514"); got != "claude-sonnet-4-20250514" {
		t.Fatalf("full names must pass through, got %q", got)
	}
}
