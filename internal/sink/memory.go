package sink

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

// Memory keeps turns in process memory.
type Memory struct {
	mu    sync.RWMutex
	turns map[string]Turn
	now   func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{turns: make(map[string]Turn), now: time.Now}
}

// UpdateContent replaces the content of turnID.
func (m *Memory) UpdateContent(_ context.Context, turnID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.turns[turnID]
	t.TurnID = turnID
	t.Content = content
	t.Revision++
	t.UpdatedAt = m.now().UTC()
	m.turns[turnID] = t
	return nil
}

// Turn returns the stored turn.
func (m *Memory) Turn(_ context.Context, turnID string) (Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.turns[turnID]
	if !ok {
		return Turn{}, ErrNotFound
	}
	return t, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
