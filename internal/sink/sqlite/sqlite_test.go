package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/octoprompt/octostream/internal/sink"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "turns.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpdateAndReadTurn(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Turn(ctx, "missing"); !errors.Is(err, sink.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, c := range []string{"Hel", "Hello", "Hello world"} {
		if err := store.UpdateContent(ctx, "turn-1", c); err != nil {
			t.Fatalf("UpdateContent: %v", err)
		}
	}
	turn, err := store.Turn(ctx, "turn-1")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if turn.Content != "Hello world" {
		t.Fatalf("content = %q", turn.Content)
	}
	if turn.Revision != 3 {
		t.Fatalf("revision = %d", turn.Revision)
	}
	if turn.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not set")
	}
}

func TestUpdateRequiresTurnID(t *testing.T) {
	if err := newStore(t).UpdateContent(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected error for empty turn id")
	}
}

func TestConcurrentTurns(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("turn-%d", i)
			text := ""
			for j := 0; j < 20; j++ {
				text += "x"
				if err := store.UpdateContent(ctx, id, text); err != nil {
					t.Errorf("UpdateContent: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		turn, err := store.Turn(ctx, fmt.Sprintf("turn-%d", i))
		if err != nil {
			t.Fatalf("Turn: %v", err)
		}
		if len(turn.Content) != 20 || turn.Revision != 20 {
			t.Fatalf("unexpected turn %+v", turn)
		}
	}
}
