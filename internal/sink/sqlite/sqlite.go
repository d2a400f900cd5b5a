package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/octoprompt/octostream/internal/sink"
)

var _ sink.Store = (*Store)(nil)

// Store implements sink.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite sink: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps concurrent streams from tripping SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS turn_contents (
	turn_id TEXT PRIMARY KEY,
	content TEXT NOT NULL DEFAULT '',
	revision INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpdateContent replaces the stored content of turnID.
func (s *Store) UpdateContent(ctx context.Context, turnID, content string) error {
	if turnID == "" {
		return errors.New("sqlite sink: turn id required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO turn_contents(turn_id, content, revision, created_at, updated_at)
VALUES(?, ?, 1, ?, ?)
ON CONFLICT(turn_id) DO UPDATE SET
	content = excluded.content,
	revision = turn_contents.revision + 1,
	updated_at = excluded.updated_at`,
		turnID, content, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite sink: update turn %s: %w", turnID, err)
	}
	return nil
}

// Turn returns the stored turn.
func (s *Store) Turn(ctx context.Context, turnID string) (sink.Turn, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT turn_id, content, revision, updated_at
FROM turn_contents
WHERE turn_id = ?`, turnID)

	var t sink.Turn
	if err := row.Scan(&t.TurnID, &t.Content, &t.Revision, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sink.Turn{}, sink.ErrNotFound
		}
		return sink.Turn{}, err
	}
	return t, nil
}
