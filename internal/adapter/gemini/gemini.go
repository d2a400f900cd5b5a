package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/octoprompt/octostream/internal/adapter"
	"github.com/octoprompt/octostream/internal/frame"
)

// Ensure Plugin implements adapter.Plugin.
var _ adapter.Plugin = (*Plugin)(nil)

const providerName = "gemini"

// Plugin streams replies from the Google Gemini API.
type Plugin struct {
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// Config holds Gemini plugin configuration.
type Config struct {
	APIKey        string
	BaseURL       string // optional, defaults to https://generativelanguage.googleapis.com
	DefaultModel  string
	HeaderTimeout time.Duration
	HTTPClient    *http.Client
}

// New creates a Gemini plugin.
func New(cfg Config) (*Plugin, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key required", providerName)
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = adapter.NewHTTPClient(cfg.HeaderTimeout)
	}
	return &Plugin{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		defaultModel: cfg.DefaultModel,
		httpClient:   client,
	}, nil
}

// Name returns "gemini".
func (p *Plugin) Name() string { return providerName }

// Framing reports SSE framing (alt=sse).
func (p *Plugin) Framing() frame.Mode { return frame.SSE }

// PrepareRequest opens a streamGenerateContent call.
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
	model = strings.TrimPrefix(model, "models/")

	body, err := adapter.MergeExtra(buildRequest(req, opts), opts.Extra)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", providerName, err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		p.baseURL, url.PathEscape(model), url.QueryEscape(p.apiKey))
	return adapter.PostStream(ctx, p.httpClient, providerName, endpoint, nil, body)
}

func buildRequest(req adapter.StreamRequest, opts adapter.Options) generateRequest {
	out := generateRequest{
		GenerationConfig: generationConfig{
			Temperature:      opts.Temperature,
			MaxOutputTokens:  opts.MaxTokens,
			TopP:             opts.TopP,
			TopK:             opts.TopK,
			FrequencyPenalty: opts.FrequencyPenalty,
			PresencePenalty:  opts.PresencePenalty,
			StopSequences:    opts.Stop,
		},
	}
	var system []string
	for _, m := range req.Messages() {
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, m.Content)
			continue
		case "assistant", "model":
			out.Contents = append(out.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &content{Parts: []part{{Text: strings.Join(system, "\n\n")}}}
	}
	return out
}

// ParseLine concatenates the text parts of the first candidate. Gemini has
// no terminal marker; the stream ends when the connection closes.
func (p *Plugin) ParseLine(line string) (adapter.Delta, error) {
	payload, ok := adapter.SSEData(line)
	if !ok || payload == "" {
		return adapter.Delta{}, nil
	}
	if vErr, ok := adapter.VendorErrorFromPayload(providerName, payload); ok {
		return adapter.Delta{}, vErr
	}
	var resp streamResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return adapter.Delta{}, nil
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return adapter.Delta{}, nil
	}
	var sb strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	return adapter.TextDelta(sb.String()), nil
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
}

type streamResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}
