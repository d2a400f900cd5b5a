package sink

import (
	"context"
	"strings"

	"github.com/octoprompt/octostream/internal/stream"
)

// Relay forwards each write to next and then hands the newly appended
// suffix to emit. It lets a caller see increments while the store keeps
// receiving the full text. A Relay serves one turn.
type Relay struct {
	next stream.Sink
	emit func(delta string) error
	sent string
}

// NewRelay creates a Relay. A nil next skips persistence.
func NewRelay(next stream.Sink, emit func(delta string) error) *Relay {
	return &Relay{next: next, emit: emit}
}

// UpdateContent implements stream.Sink.
func (r *Relay) UpdateContent(ctx context.Context, turnID, content string) error {
	if r.next != nil {
		if err := r.next.UpdateContent(ctx, turnID, content); err != nil {
			return err
		}
	}
	delta := content
	if strings.HasPrefix(content, r.sent) {
		delta = content[len(r.sent):]
	}
	r.sent = content
	if delta == "" || r.emit == nil {
		return nil
	}
	return r.emit(delta)
}

// Sent returns everything emitted so far.
func (r *Relay) Sent() string { return r.sent }
