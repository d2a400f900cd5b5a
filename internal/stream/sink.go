package stream

import "context"

// Sink persists the reply of one turn. Every call carries the full text
// accumulated so far and replaces what was stored before. Calls for one
// turn never overlap.
type Sink interface {
	UpdateContent(ctx context.Context, turnID, content string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, turnID, content string) error

// UpdateContent calls f.
func (f SinkFunc) UpdateContent(ctx context.Context, turnID, content string) error {
	return f(ctx, turnID, content)
}
