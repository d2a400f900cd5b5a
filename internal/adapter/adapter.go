package adapter

import (
	"context"
	"errors"
	"io"

	"github.com/octoprompt/octostream/internal/frame"
)

// Plugin adapts one vendor API to the uniform incremental-text protocol.
// Implementations hold configuration only and are safe for concurrent use.
type Plugin interface {
	// Name identifies the provider ("openai", "anthropic", ...).
	Name() string
	// Framing reports how the response body is split into events.
	Framing() frame.Mode
	// PrepareRequest opens a streaming request. A non-2xx status or a
	// connection failure is reported as *UpstreamError before any body
	// byte is read.
	PrepareRequest(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
	// ParseLine extracts the delta carried by one line. It performs no I/O.
	// Malformed lines yield a zero Delta and a nil error; the only error it
	// returns is *VendorError for an in-band error envelope.
	ParseLine(line string) (Delta, error)
}

// Delta is what a single line contributes to the stream. The zero value
// carries nothing.
type Delta struct {
	Text string
	Done bool
}

// TextDelta returns a Delta carrying text.
func TextDelta(s string) Delta { return Delta{Text: s} }

// DoneDelta marks the end of the stream.
func DoneDelta() Delta { return Delta{Done: true} }

// Empty reports whether d carries neither text nor a terminal marker.
func (d Delta) Empty() bool { return d.Text == "" && !d.Done }

var (
	// ErrEmptyMessage is returned when a request carries no user message.
	ErrEmptyMessage = errors.New("adapter: message is empty")
	// ErrModelRequired is returned when no model is set and the plugin has
	// no default.
	ErrModelRequired = errors.New("adapter: model required")
)

// Message is one turn of caller-supplied history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the input of a single streaming call.
type StreamRequest struct {
	ChatID  string
	TurnID  string
	Message string
	System  string
	History []Message
	Options Options
}

// Messages returns the OpenAI style message list: system preamble, history,
// then the outbound user message.
func (r StreamRequest) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+2)
	if r.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.System})
	}
	msgs = append(msgs, r.History...)
	msgs = append(msgs, Message{Role: "user", Content: r.Message})
	return msgs
}

// Validate checks the fields every plugin needs.
func (r StreamRequest) Validate() error {
	if r.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}
