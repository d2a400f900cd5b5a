package frame

import (
	"errors"
	"io"
	"strings"
)

const defaultReadBuffer = 8192

// Reader pulls bytes from a source and delivers events. In SSE mode an
// event is the ordered list of field lines seen before a blank line; in
// NDJSON mode every line is an event. Comment lines (leading ':') and
// empty lines never reach the caller.
type Reader struct {
	src   io.Reader
	mode  Mode
	asm   *Assembler
	buf   []byte
	cur   []string
	ready [][]string
	err   error
}

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithMaxLineBytes bounds the size of a single line.
func WithMaxLineBytes(n int) ReaderOption {
	return func(r *Reader) { r.asm = NewAssembler(n) }
}

// WithReadBufferSize sets the size of each read from the source.
func WithReadBufferSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.buf = make([]byte, n)
		}
	}
}

// NewReader wraps src.
func NewReader(src io.Reader, mode Mode, opts ...ReaderOption) *Reader {
	r := &Reader{
		src:  src,
		mode: mode,
		asm:  NewAssembler(0),
		buf:  make([]byte, defaultReadBuffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextEvent returns the next event. At the natural end of the source it
// returns io.EOF after the trailing partial event (if any) was delivered.
// A read failure is returned after every event completed before it.
func (r *Reader) NextEvent() ([]string, error) {
	for {
		if len(r.ready) > 0 {
			ev := r.ready[0]
			r.ready = r.ready[1:]
			return ev, nil
		}
		if r.err != nil {
			return nil, r.err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			lines, perr := r.asm.Push(r.buf[:n])
			r.feed(lines)
			if perr != nil {
				r.finish(perr)
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if tail, ok := r.asm.Flush(); ok {
					r.feed([]string{tail})
				}
				r.finish(io.EOF)
				continue
			}
			r.finish(err)
		}
	}
}

func (r *Reader) feed(lines []string) {
	for _, line := range lines {
		if line == "" {
			if len(r.cur) > 0 {
				r.ready = append(r.ready, r.cur)
				r.cur = nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if r.mode == NDJSON {
			r.ready = append(r.ready, []string{line})
			continue
		}
		r.cur = append(r.cur, line)
	}
}

func (r *Reader) finish(err error) {
	if len(r.cur) > 0 {
		r.ready = append(r.ready, r.cur)
		r.cur = nil
	}
	r.err = err
}
