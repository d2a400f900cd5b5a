// Package sink holds the stores a stream persists its reply into.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/octoprompt/octostream/internal/stream"
)

// ErrNotFound is returned when a turn has never been written.
var ErrNotFound = errors.New("sink: turn not found")

// Turn is the persisted reply of one turn.
type Turn struct {
	TurnID    string    `json:"turn_id"`
	Content   string    `json:"content"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a Sink that can read back what it persisted.
type Store interface {
	stream.Sink
	Turn(ctx context.Context, turnID string) (Turn, error)
	Close() error
}

// Pinger is implemented by stores backed by a remote or on-disk database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Func adapts a function to stream.Sink.
type Func = stream.SinkFunc

// Tee writes to every sink in order and stops at the first failure.
func Tee(sinks ...stream.Sink) stream.Sink {
	return stream.SinkFunc(func(ctx context.Context, turnID, content string) error {
		for _, s := range sinks {
			if err := s.UpdateContent(ctx, turnID, content); err != nil {
				return err
			}
		}
		return nil
	})
}
