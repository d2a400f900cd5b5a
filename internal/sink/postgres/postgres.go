package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/octoprompt/octostream/internal/sink"
)

var _ sink.Store = (*Store)(nil)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "turn_contents"

// Config holds PostgreSQL sink settings.
type Config struct {
	DSN string
	// Driver is "pgx" (default) or "postgres" for lib/pq.
	Driver string
	// Table may be schema qualified ("chat.turn_contents").
	Table           string
	MaxOpen         int
	MaxIdle         int
	LifetimeMinutes int
	IdleTimeMinutes int
}

// Store implements sink.Store backed by PostgreSQL.
type Store struct {
	db    *sql.DB
	table string
}

// New opens a PostgreSQL-backed store and creates its table.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres sink: dsn required")
	}
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = "pgx"
	}
	if driver != "pgx" && driver != "postgres" {
		return nil, fmt.Errorf("postgres sink: unsupported driver %q", driver)
	}
	table, err := QuoteTable(cfg.Table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if cfg.MaxOpen > 0 {
		db.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.LifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.LifetimeMinutes) * time.Minute)
	}
	if cfg.IdleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(cfg.IdleTimeMinutes) * time.Minute)
	}

	s := &Store{db: db, table: table}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// QuoteTable quotes every dot-separated part of name as an identifier.
func QuoteTable(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTable
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("postgres sink: invalid table name %q", name)
	}
	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("postgres sink: invalid table name %q", name)
		}
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, "."), nil
}

func (s *Store) initSchema() error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	turn_id TEXT PRIMARY KEY,
	content TEXT NOT NULL DEFAULT '',
	revision BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`, s.table)
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
		return errors.New("postgres sink: turn id required")
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (turn_id, content, revision, created_at, updated_at)
VALUES ($1, $2, 1, NOW(), NOW())
ON CONFLICT (turn_id) DO UPDATE SET
	content = EXCLUDED.content,
	revision = %[1]s.revision + 1,
	updated_at = NOW()`, s.table)
	if _, err := s.db.ExecContext(ctx, query, turnID, content); err != nil {
		return fmt.Errorf("postgres sink: update turn %s: %w", turnID, err)
	}
	return nil
}

// Turn returns the stored turn.
func (s *Store) Turn(ctx context.Context, turnID string) (sink.Turn, error) {
	query := fmt.Sprintf(`SELECT turn_id, content, revision, updated_at FROM %s WHERE turn_id = $1`, s.table)
	var t sink.Turn
	if err := s.db.QueryRowContext(ctx, query, turnID).Scan(&t.TurnID, &t.Content, &t.Revision, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sink.Turn{}, sink.ErrNotFound
		}
		return sink.Turn{}, err
	}
	return t, nil
}
