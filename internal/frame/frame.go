// Package frame turns an arbitrarily chunked byte stream into lines and
// groups those lines into server-sent events or JSON lines.
package frame

import (
	"bytes"
	"errors"
)

// Mode selects how lines are grouped into events.
type Mode int

const (
	// SSE groups field lines until a blank line.
	SSE Mode = iota
	// NDJSON delivers every line as its own event.
	NDJSON
)

func (m Mode) String() string {
	switch m {
	case SSE:
		return "sse"
	case NDJSON:
		return "ndjson"
	default:
		return "unknown"
	}
}

// DefaultMaxLineBytes bounds a single pending line.
const DefaultMaxLineBytes = 4 << 20

// ErrLineTooLong is returned when a line grows past the configured limit
// without a terminating newline.
var ErrLineTooLong = errors.New("frame: line exceeds maximum size")

// Assembler buffers raw bytes and yields complete lines. Lines are split on
// '\n' bytes only, so multi-byte UTF-8 sequences are never cut in half.
type Assembler struct {
	pending []byte
	max     int
}

// NewAssembler creates an Assembler. A max of zero or less selects
// DefaultMaxLineBytes.
func NewAssembler(max int) *Assembler {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	return &Assembler{max: max}
}

// Push appends chunk to the pending buffer and returns every line completed
// by it, in order, with the trailing "\r" removed.
func (a *Assembler) Push(chunk []byte) ([]string, error) {
	a.pending = append(a.pending, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(a.pending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, trimCR(a.pending[:idx]))
		a.pending = a.pending[idx+1:]
	}

	if len(a.pending) > a.max {
		a.pending = nil
		return lines, ErrLineTooLong
	}
	// reclaim the consumed prefix once the buffer is drained
	if len(a.pending) == 0 {
		a.pending = a.pending[:0:0]
	}
	return lines, nil
}

// Flush returns the unterminated tail as a final line. It reports false when
// nothing is pending.
func (a *Assembler) Flush() (string, bool) {
	if len(a.pending) == 0 {
		return "", false
	}
	line := trimCR(a.pending)
	a.pending = nil
	return line, true
}

// Pending reports the number of buffered bytes not yet forming a line.
func (a *Assembler) Pending() int {
	return len(a.pending)
}

func trimCR(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return string(b)
}
