// Package ollama streams chat replies from an Ollama server, which answers
// with one JSON object per line instead of server-sent events.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/octoprompt/octostream/internal/adapter"
	"github.com/octoprompt/octostream/internal/frame"
)

// Ensure Plugin implements adapter.Plugin.
var _ adapter.Plugin = (*Plugin)(nil)

const providerName = "ollama"

// DefaultBaseURL is the address of a local Ollama install.
const DefaultBaseURL = "http://localhost:11434"

// Plugin talks to POST /api/chat.
type Plugin struct {
	baseURL      string
	defaultModel string
	headers      http.Header
	httpClient   *http.Client
}

// Config holds Ollama plugin configuration. The API key is optional and only
// used behind authenticating proxies.
type Config struct {
	BaseURL       string
	APIKey        string
	DefaultModel  string
	HeaderTimeout time.Duration
	HTTPClient    *http.Client
}

// New creates an Ollama plugin.
func New(cfg Config) (*Plugin, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = adapter.NewHTTPClient(cfg.HeaderTimeout)
	}
	headers := http.Header{}
	headers.Set("Accept", "application/x-ndjson")
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Plugin{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultModel: cfg.DefaultModel,
		headers:      headers,
		httpClient:   client,
	}, nil
}

// Name returns "ollama".
func (p *Plugin) Name() string { return providerName }

// Framing reports line-delimited JSON.
func (p *Plugin) Framing() frame.Mode { return frame.NDJSON }

// PrepareRequest opens a streaming /api/chat call.
func (p *Plugin) PrepareRequest(ctx context.Context, req adapter.StreamRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}
	opts := req.Options.WithDefaults(adapter.DefaultOptions())
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("%s: %w", providerName, adapter.ErrModelRequired)
	}

	msgs := req.Messages()
	wire := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, chatMessage{Role: m.Role, Content: m.Content})
	}
	body, err := adapter.MergeExtra(chatRequest{
		Model:    model,
		Messages: wire,
		Stream:   true,
		Options:  buildChatOptions(opts),
	}, opts.Extra)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", providerName, err)
	}
	return adapter.PostStream(ctx, p.httpClient, providerName, p.baseURL+"/api/chat", p.headers, body)
}

// buildChatOptions maps sampling options onto Ollama's option names.
func buildChatOptions(opts adapter.Options) map[string]any {
	out := map[string]any{}
	if opts.Temperature != nil {
		out["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		out["num_predict"] = *opts.MaxTokens
	}
	if opts.TopP != nil {
		out["top_p"] = *opts.TopP
	}
	if opts.TopK != nil {
		out["top_k"] = *opts.TopK
	}
	if opts.FrequencyPenalty != nil {
		out["frequency_penalty"] = *opts.FrequencyPenalty
	}
	if opts.PresencePenalty != nil {
		out["presence_penalty"] = *opts.PresencePenalty
	}
	if len(opts.Stop) > 0 {
		out["stop"] = opts.Stop
	}
	return out
}

// ParseLine decodes one JSON line. A line may carry text and the done flag
// at once.
func (p *Plugin) ParseLine(line string) (adapter.Delta, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return adapter.Delta{}, nil
	}
	if vErr, ok := adapter.VendorErrorFromPayload(providerName, line); ok {
		return adapter.Delta{}, vErr
	}
	var resp chatResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return adapter.Delta{}, nil
	}
	return adapter.Delta{Text: resp.Message.Content, Done: resp.Done}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}
