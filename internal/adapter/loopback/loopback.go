package loopback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/octoprompt/octostream/internal/adapter"
	oaiplugin "github.com/octoprompt/octostream/internal/adapter/openai"
	"github.com/octoprompt/octostream/internal/frame"
	"github.com/octoprompt/octostream/internal/openai"
)

// Ensure Plugin implements adapter.Plugin.
var _ adapter.Plugin = (*Plugin)(nil)

const providerName = "loopback"

// Plugin echoes the user message back as an OpenAI style event stream
// without touching the network.
type Plugin struct{}

// New creates a loopback Plugin.
func New() *Plugin {
	return &Plugin{}
}

// Name returns "loopback".
func (p *Plugin) Name() string { return providerName }

// Framing reports SSE framing.
func (p *Plugin) Framing() frame.Mode { return frame.SSE }

// PrepareRequest renders the echo reply, one chunk per word, followed by the
// [DONE] sentinel.
func (p *Plugin) PrepareRequest(ctx context.Context, req adapter.StreamRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, &adapter.UpstreamError{Provider: providerName, Err: err}
	}

	model := req.Options.Model
	if model == "" {
		model = providerName
	}
	reply := Reply(req.Message)
	created := time.Now().Unix()

	var buf bytes.Buffer
	for _, tok := range Tokens(reply) {
		chunk := openai.NewContentChunk("loopback-"+req.TurnID, model, created, tok)
		data, err := json.Marshal(chunk)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal chunk: %w", providerName, err)
		}
		fmt.Fprintf(&buf, "data: %s\n\n", data)
	}
	fmt.Fprintf(&buf, "data: %s\n\n", openai.DoneSentinel)
	return io.NopCloser(&buf), nil
}

// ParseLine uses the OpenAI chunk grammar.
func (p *Plugin) ParseLine(line string) (adapter.Delta, error) {
	return oaiplugin.ParseChunkLine(providerName, line)
}

// Reply is the text the loopback plugin streams for message.
func Reply(message string) string {
	return "[loopback] " + strings.TrimSpace(message)
}

// Tokens splits s after every space so the tokens concatenate back to s.
func Tokens(s string) []string {
	var out []string
	for _, tok := range strings.SplitAfter(s, " ") {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
