package openai

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
	"github.com/octoprompt/octostream/internal/openai"
)

// Ensure Plugin implements adapter.Plugin.
var _ adapter.Plugin = (*Plugin)(nil)

// Plugin streams chat completions from any OpenAI compatible endpoint.
type Plugin struct {
	name         string
	baseURL      string
	headers      http.Header
	defaultModel string
	httpClient   *http.Client
}

// Config holds configuration for an OpenAI compatible plugin.
type Config struct {
	// Name is the provider identifier, defaults to "openai".
	Name         string
	APIKey       string
	BaseURL      string // optional, defaults to https://api.openai.com/v1
	Organization string // optional
	DefaultModel string
	// Headers are sent with every request (OpenRouter attribution etc).
	Headers map[string]string
	// KeyOptional allows local servers that take no credentials.
	KeyOptional   bool
	HeaderTimeout time.Duration
	HTTPClient    *http.Client
}

// New creates a Plugin instance.
func New(cfg Config) (*Plugin, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "openai"
	}
	if cfg.APIKey == "" && !cfg.KeyOptional {
		return nil, fmt.Errorf("%s: api key required", name)
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = adapter.NewHTTPClient(cfg.HeaderTimeout)
	}

	headers := http.Header{}
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Organization != "" {
		headers.Set("OpenAI-Organization", cfg.Organization)
	}

	return &Plugin{
		name:         name,
		baseURL:      baseURL,
		headers:      headers,
		defaultModel: cfg.DefaultModel,
		httpClient:   client,
	}, nil
}

// Name returns the provider identifier.
func (p *Plugin) Name() string { return p.name }

// Framing reports SSE framing.
func (p *Plugin) Framing() frame.Mode { return frame.SSE }

// PrepareRequest opens a streaming chat completion.
func (p *Plugin) PrepareRequest(ctx context.Context, req adapter.StreamRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	return adapter.PostStream(ctx, p.httpClient, p.name, p.baseURL+"/chat/completions", p.headers, body)
}

func (p *Plugin) buildRequest(req adapter.StreamRequest) (any, error) {
	opts := req.Options.WithDefaults(adapter.DefaultOptions())
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("%s: %w", p.name, adapter.ErrModelRequired)
	}

	msgs := req.Messages()
	wire := make([]openai.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, openai.ChatMessage{Role: m.Role, Content: m.Content})
	}

	body := openai.ChatCompletionRequest{
		Model:            model,
		Messages:         wire,
		Stream:           true,
		Temperature:      adapter.FloatValue(opts.Temperature, 0.7),
		MaxTokens:        adapter.IntValue(opts.MaxTokens, 10000),
		TopP:             adapter.FloatValue(opts.TopP, 1),
		FrequencyPenalty: adapter.FloatValue(opts.FrequencyPenalty, 0),
		PresencePenalty:  adapter.FloatValue(opts.PresencePenalty, 0),
		Stop:             opts.Stop,
	}
	merged, err := adapter.MergeExtra(body, opts.Extra)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	return merged, nil
}

// ParseLine extracts the content delta from one SSE line.
func (p *Plugin) ParseLine(line string) (adapter.Delta, error) {
	return ParseChunkLine(p.name, line)
}

// ParseChunkLine parses one line of the OpenAI chunk grammar on behalf of
// provider. It is shared with plugins that emit the same grammar.
func ParseChunkLine(provider, line string) (adapter.Delta, error) {
	payload, ok := adapter.SSEData(line)
	if !ok || payload == "" {
		return adapter.Delta{}, nil
	}
	if payload == openai.DoneSentinel {
		return adapter.DoneDelta(), nil
	}

	if vErr, ok := adapter.VendorErrorFromPayload(provider, payload); ok {
		return adapter.Delta{}, vErr
	}
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return adapter.Delta{}, nil
	}
	return adapter.TextDelta(chunk.GetDelta().Content), nil
}
