// Package redis stores turn content in Redis hashes, one hash per turn.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/octoprompt/octostream/internal/sink"
)

var _ sink.Store = (*Store)(nil)

// DefaultPrefix namespaces turn keys.
const DefaultPrefix = "octostream:turn:"

// Config holds Redis sink settings.
type Config struct {
	// URL is a redis:// or rediss:// URL.
	URL    string
	Prefix string
	// TTL expires turns after the last write; zero keeps them forever.
	TTL time.Duration
}

// Store implements sink.Store on top of a Redis client.
type Store struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// New connects to the server in cfg.URL.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis sink: url required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: parse url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis sink: ping: %w", err)
	}
	s := NewWithClient(client, cfg.Prefix, cfg.TTL)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. Close leaves the client open.
func NewWithClient(client goredis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(turnID string) string { return s.prefix + turnID }

// UpdateContent replaces the stored content and bumps the revision in one
// transaction.
func (s *Store) UpdateContent(ctx context.Context, turnID, content string) error {
	if turnID == "" {
		return errors.New("redis sink: turn id required")
	}
	key := s.key(turnID)
	now := time.Now().UTC()
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, "content", content, "updated_at", now.Format(time.RFC3339Nano))
		pipe.HIncrBy(ctx, key, "revision", 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sink: update turn %s: %w", turnID, err)
	}
	return nil
}

// Turn returns the stored turn.
func (s *Store) Turn(ctx context.Context, turnID string) (sink.Turn, error) {
	vals, err := s.client.HGetAll(ctx, s.key(turnID)).Result()
	if err != nil {
		return sink.Turn{}, fmt.Errorf("redis sink: read turn %s: %w", turnID, err)
	}
	if len(vals) == 0 {
		return sink.Turn{}, sink.ErrNotFound
	}
	t := sink.Turn{TurnID: turnID, Content: vals["content"]}
	if rev, err := strconv.ParseInt(vals["revision"], 10, 64); err == nil {
		t.Revision = rev
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		t.UpdatedAt = ts
	}
	return t, nil
}

// Ping checks the server connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client when the store created it.
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
