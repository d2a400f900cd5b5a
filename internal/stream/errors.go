package stream

import (
	"errors"
	"fmt"
)

// ErrTurnIDRequired is returned when a request has no turn to persist into.
var ErrTurnIDRequired = errors.New("stream: turn id required")

// ErrorKind classifies a stream failure that happened after the request was
// accepted.
type ErrorKind string

const (
	// KindTransport covers read failures, cancellation and framing errors.
	KindTransport ErrorKind = "transport"
	// KindVendor is an error envelope sent inside the stream.
	KindVendor ErrorKind = "vendor"
	// KindSink is a failed persistence call.
	KindSink ErrorKind = "sink"
)

// Error reports a stream that failed mid-way. Partial holds the text
// produced before the failure; Flushed reports whether it reached the sink.
type Error struct {
	Kind     ErrorKind
	Provider string
	TurnID   string
	Partial  string
	Flushed  bool
	FlushErr error
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("stream %s (turn %s): %s error: %v", e.Provider, e.TurnID, e.Kind, e.Err)
	if e.FlushErr != nil {
		msg += fmt.Sprintf(" (flush failed: %v)", e.FlushErr)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a stream error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.Kind
	}
	return ""
}
