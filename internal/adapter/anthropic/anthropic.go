package anthropic

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

const providerName = "anthropic"

// defaultMaxTokens fits the output cap of every dated model mapModelName
// produces.
const defaultMaxTokens = 4096

// Plugin streams replies from the Anthropic Messages API (Claude).
type Plugin struct {
	baseURL      string
	defaultModel string
	headers      http.Header
	httpClient   *http.Client
}

// Config holds configuration for the Anthropic plugin.
type Config struct {
	APIKey        string
	BaseURL       string // optional, defaults to https://api.anthropic.com
	Version       string // optional, defaults to 2023-06-01
	DefaultModel  string
	HeaderTimeout time.Duration
	HTTPClient    *http.Client
}

// New creates a Plugin instance.
func New(cfg Config) (*Plugin, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key required", providerName)
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "2023-06-01"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = adapter.NewHTTPClient(cfg.HeaderTimeout)
	}

	headers := http.Header{}
	headers.Set("x-api-key", cfg.APIKey)
	headers.Set("anthropic-version", version)

	return &Plugin{
		baseURL:      baseURL,
		defaultModel: cfg.DefaultModel,
		headers:      headers,
		httpClient:   client,
	}, nil
}

// Name returns "anthropic".
func (p *Plugin) Name() string { return providerName }

// Framing reports SSE framing.
func (p *Plugin) Framing() frame.Mode { return frame.SSE }

// PrepareRequest opens a streaming Messages API call.
func (p *Plugin) PrepareRequest(ctx context.Context, req adapter.StreamRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	return adapter.PostStream(ctx, p.httpClient, providerName, p.baseURL+"/v1/messages", p.headers, body)
}

func (p *Plugin) buildRequest(req adapter.StreamRequest) (any, error) {
	defaults := adapter.DefaultOptions()
	defaults.MaxTokens = adapter.Int(defaultMaxTokens)
	opts := req.Options.WithDefaults(defaults)
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("%s: %w", providerName, adapter.ErrModelRequired)
	}

	messages, system := convertMessages(req.Messages())
	payload := messagesRequest{
		Model:         mapModelName(model),
		Messages:      messages,
		System:        system,
		MaxTokens:     adapter.IntValue(opts.MaxTokens, defaultMaxTokens),
		Stream:        true,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		TopK:          opts.TopK,
		StopSequences: opts.Stop,
	}
	merged, err := adapter.MergeExtra(payload, opts.Extra)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", providerName, err)
	}
	return merged, nil
}

// ParseLine extracts text from content_block_delta events and reports
// message_stop as the end of the stream.
func (p *Plugin) ParseLine(line string) (adapter.Delta, error) {
	payload, ok := adapter.SSEData(line)
	if !ok || payload == "" {
		return adapter.Delta{}, nil
	}
	var evt streamEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return adapter.Delta{}, nil
	}
	if vErr, ok := adapter.VendorErrorFromPayload(providerName, payload); ok {
		return adapter.Delta{}, vErr
	}
	switch evt.Type {
	case "content_block_delta":
		if evt.Delta.Type == "text_delta" {
			return adapter.TextDelta(evt.Delta.Text), nil
		}
	case "message_stop":
		return adapter.DoneDelta(), nil
	case "error":
		vErr := &adapter.VendorError{Provider: providerName}
		if evt.Error != nil {
			vErr.Type = evt.Error.Type
			vErr.Message = evt.Error.Message
		}
		return adapter.Delta{}, vErr
	}
	return adapter.Delta{}, nil
}

// messagesRequest is the Messages API request body.
type messagesRequest struct {
	Model         string    `json:"model"`
	Messages      []message `json:"messages"`
	System        string    `json:"system,omitempty"`
	MaxTokens     int       `json:"max_tokens"`
	Stream        bool      `json:"stream"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	TopK          *int      `json:"top_k,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

// message represents a message in Anthropic's format.
type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock represents a content block (text or other types).
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Streaming event minimal schema
type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// convertMessages folds system entries into the system prompt and maps
// every other role to user or assistant.
func convertMessages(in []adapter.Message) ([]message, string) {
	var messages []message
	var systemPrompt string

	for _, msg := range in {
		role := strings.ToLower(msg.Role)

		if role == "system" {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		if role != "assistant" {
			role = "user"
		}

		messages = append(messages, message{
			Role:    role,
			Content: []contentBlock{{Type: "text", Text: msg.Content}},
		})
	}
	return messages, systemPrompt
}

// mapModelName expands short aliases to dated model names. Anything else is
// passed through unchanged.
func mapModelName(model string) string {
	switch strings.ToLower(strings.TrimSpace(model)) {
	case "claude", "claude-3":
		return "claude-3-opus-20240229"
	case "claude-sonnet", "claude-3-sonnet":
		return "claude-3-5-sonnet-20241022"
	case "claude-haiku", "claude-3-haiku":
		return "claude-3-5-haiku-20241022"
	}
	return model
}
