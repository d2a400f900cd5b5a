package loopback

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/octoprompt/octostream/internal/adapter"
	"github.com/octoprompt/octostream/internal/frame"
)

func TestLoopbackStream(t *testing.T) {
	p := New()
	rc, err := p.PrepareRequest(context.Background(), adapter.StreamRequest{
		TurnID:  "t1",
		Message: " Hello there ",
	})
	if err != nil {
		t.Fatalf("PrepareRequest: %v", err)
	}
	defer rc.Close()

	r := frame.NewReader(rc, p.Framing())
	var sb strings.Builder
	done := false
	for {
		ev, err := r.NextEvent()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextEvent: %v", err)
		}
		for _, line := range ev {
			d, err := p.ParseLine(line)
			if err != nil {
				t.Fatalf("ParseLine: %v", err)
			}
			sb.WriteString(d.Text)
			done = done || d.Done
		}
	}
	if !done {
		t.Fatalf("expected [DONE] sentinel")
	}
	if sb.String() != "[loopback] Hello there" {
		t.Fatalf("unexpected content %q", sb.String())
	}
}

func TestLoopbackNoMessage(t *testing.T) {
	if _, err := New().PrepareRequest(context.Background(), adapter.StreamRequest{}); !errors.Is(err, adapter.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestTokens(t *testing.T) {
	toks := Tokens("[loopback] a  b")
	if strings.Join(toks, "") != "[loopback] a  b" {
		t.Fatalf("tokens do not round-trip: %#v", toks)
	}
	if len(toks) != 4 {
		t.Fatalf("unexpected tokens %#v", toks)
	}
}
