package gemini

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
			name: "single part",
			line: `data: {"candidates":[{"content":{"parts":[{"text":"Hello"}],"role":"model"}}]}`,
			want: adapter.Delta{Text: "Hello"},
		},
		{
			name: "multiple parts concatenated",
			line: `data: {"candidates":[{"content":{"parts":[{"text":"Hel"},{"text":"lo"}]}}]}`,
			want: adapter.Delta{Text: "Hello"},
		},
		{
			name: "finish without content",
			line: `data: {"candidates":[{"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":5}}`,
		},
		{name: "no candidates", line: `data: {"usageMetadata":{}}`},
		{name: "malformed", line: `data: {"candidates":[`},
		{name: "not data", line: "id: 1"},
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
	_, err := p.ParseLine(`data: {"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	var vErr *adapter.VendorError
	if !errors.As(err, &vErr) || vErr.Type != "RESOURCE_EXHAUSTED" {
		t.Fatalf("expected VendorError, got %v", err)
	}
}

func TestParseLineIsPure(t *testing.T) {
	p, _ := New(Config{APIKey: "k"})
	lines := []string{
		`data: {"candidates":[{"content":{"parts":[{"text":"Hel"},{"text":"lo"}]}}]}`,
		`data: {"candidates":[{"finishReason":"STOP"}]}`,
		`data: {"candidates":[`,
		`data: {"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`,
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

func TestPrepareRequestConnectionFailureHidesKey(t *testing.T) {
	srv := testutil.NewIPv4Server(t, nil)
	baseURL := srv.URL
	srv.Close()

	p, err := New(Config{APIKey: "SECRET-KEY-123", BaseURL: baseURL, DefaultModel: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.PrepareRequest(context.Background(), adapter.StreamRequest{Message: "hi"})
	if err == nil {
		t.Fatalf("expected connection error")
	}
	var upErr *adapter.UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != 0 {
		t.Fatalf("expected connection failure, got %v", err)
	}
	if strings.Contains(err.Error(), "SECRET-KEY-123") {
		t.Fatalf("api key leaked into error: %v", err)
	}
	if !strings.Contains(err.Error(), "key=REDACTED") {
		t.Fatalf("expected redacted key in %v", err)
	}
}

func TestPrepareRequest(t *testing.T) {
	var body generateRequest
	srv := testutil.NewIPv4Server(t, testutil.ChunkedHandler(t, "text/event-stream",
		[]string{"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]}}]}\r\n\r\n"},
		func(r *http.Request) {
			if r.URL.Path != "/v1beta/models/gemini-1.5-flash:streamGenerateContent" {
				t.Errorf("path = %q", r.URL.Path)
			}
			q := r.URL.Query()
			if q.Get("alt") != "sse" || q.Get("key") != "g-key" {
				t.Errorf("query = %q", r.URL.RawQuery)
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode: %v", err)
			}
		}))

	p, err := New(Config{APIKey: "g-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rc, err := p.PrepareRequest(context.Background(), adapter.StreamRequest{
		Message: "Hi",
		System:  "Be kind.",
		History: []adapter.Message{{Role: "assistant", Content: "Welcome"}},
		Options: adapter.Options{Model: "models/gemini-1.5-flash"},
	})
	if err != nil {
		t.Fatalf("PrepareRequest: %v", err)
	}
	_, _ = io.Copy(io.Discard, rc)
	rc.Close()

	if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "Be kind." {
		t.Fatalf("systemInstruction = %+v", body.SystemInstruction)
	}
	if len(body.Contents) != 2 || body.Contents[0].Role != "model" || body.Contents[1].Role != "user" {
		t.Fatalf("contents = %+v", body.Contents)
	}
	if body.GenerationConfig.MaxOutputTokens == nil || *body.GenerationConfig.MaxOutputTokens != 10000 {
		t.Fatalf("generationConfig = %+v", body.GenerationConfig)
	}
}
