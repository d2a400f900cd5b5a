package frame

import (
	"errors"
	"io"
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

func collectLines(t *testing.T, chunks [][]byte) []string {
	t.Helper()
	asm := NewAssembler(0)
	var out []string
	for _, c := range chunks {
		lines, err := asm.Push(c)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		out = append(out, lines...)
	}
	if tail, ok := asm.Flush(); ok {
		out = append(out, tail)
	}
	return out
}

func TestAssemblerSplitsAndStripsCR(t *testing.T) {
	got := collectLines(t, [][]byte{[]byte("data: a\r\ndata: b\n\ndata: c")})
	want := []string{"data: a", "data: b", "", "data: c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected lines: %#v", got)
	}
}

func TestAssemblerBoundaryInvariance(t *testing.T) {
	input := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"héllo wörld\"}}]}\r\n\r\n: keepalive\ndata: [DONE]\n\nevent: x\ndata: 日本語")
	want := collectLines(t, [][]byte{input})

	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			got := collectLines(t, [][]byte{input[:i], input[i:j], input[j:]})
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("split at %d/%d: got %#v want %#v", i, j, got, want)
			}
		}
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var chunks [][]byte
		rest := input
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		if got := collectLines(t, chunks); !reflect.DeepEqual(got, want) {
			t.Fatalf("random chunking %d: got %#v", round, got)
		}
	}
}

func TestAssemblerKeepsMultibyteRunesWhole(t *testing.T) {
	input := []byte("ab€c\n")
	// cut inside the three-byte euro sign
	got := collectLines(t, [][]byte{input[:3], input[3:4], input[4:]})
	if len(got) != 1 || got[0] != "ab€c" {
		t.Fatalf("unexpected lines: %#v", got)
	}
}

func TestAssemblerLineTooLong(t *testing.T) {
	asm := NewAssembler(8)
	if _, err := asm.Push([]byte("short\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines, err := asm.Push([]byte("ok\n0123456789"))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	if len(lines) != 1 || lines[0] != "ok" {
		t.Fatalf("complete lines should still be returned: %#v", lines)
	}
	if asm.Pending() != 0 {
		t.Fatalf("pending buffer should be dropped, got %d", asm.Pending())
	}
}

type chunkedReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func readAll(t *testing.T, r *Reader) ([][]string, error) {
	t.Helper()
	var events [][]string
	for {
		ev, err := r.NextEvent()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestReaderGroupsSSEEvents(t *testing.T) {
	src := &chunkedReader{chunks: [][]byte{
		[]byte("event: content_block_delta\ndata: {\"a\":1}\n"),
		[]byte("\n: ping\n\n\ndata: {\"b\":2}\n\ndata: tail"),
	}}
	events, err := readAll(t, NewReader(src, SSE))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	want := [][]string{
		{"event: content_block_delta", "data: {\"a\":1}"},
		{"data: {\"b\":2}"},
		{"data: tail"},
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestReaderNDJSON(t *testing.T) {
	src := &chunkedReader{chunks: [][]byte{
		[]byte("{\"message\":{\"content\":\"Hi\"},\"done\":false}\n{\"mess"),
		[]byte("age\":{\"content\":\" there\"},\"done\":true}"),
	}}
	events, err := readAll(t, NewReader(src, NDJSON, WithReadBufferSize(5)))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %#v", events)
	}
	if !strings.HasSuffix(events[1][0], "\"done\":true}") {
		t.Fatalf("final line not flushed at close: %#v", events[1])
	}
}

func TestReaderDeliversCompleteEventsBeforeError(t *testing.T) {
	boom := errors.New("connection reset")
	src := &chunkedReader{
		chunks: [][]byte{[]byte("data: one\n\ndata: two\ndata: par")},
		err:    boom,
	}
	events, err := readAll(t, NewReader(src, SSE))
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	want := [][]string{{"data: one"}, {"data: two"}}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestReaderLineTooLong(t *testing.T) {
	src := strings.NewReader("data: ok\n\ndata: " + strings.Repeat("x", 64))
	events, err := readAll(t, NewReader(src, SSE, WithMaxLineBytes(16), WithReadBufferSize(4)))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	if len(events) != 1 || events[0][0] != "data: ok" {
		t.Fatalf("unexpected events: %#v", events)
	}
}
