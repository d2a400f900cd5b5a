package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/octoprompt/octostream/internal/adapter/router"
	"github.com/octoprompt/octostream/internal/bootstrap"
	"github.com/octoprompt/octostream/internal/config"
	"github.com/octoprompt/octostream/internal/logging"
	"github.com/octoprompt/octostream/internal/sink"
	"github.com/octoprompt/octostream/internal/stream"
)

type session struct {
	cfg    config.StreamConfig
	logger *log.Logger
	router *router.Router
	store  sink.Store
	engine *stream.Engine
	logs   io.Closer
}

// openSession loads config and opens the store. Log lines go to stderr so
// stdout carries only the reply.
func openSession(ctx context.Context, root string) (*session, error) {
	cfg, err := config.LoadStreamConfig(root)
	if err != nil {
		return nil, err
	}
	out, logs, err := logging.Output(os.Stderr, cfg.LogFileCLI)
	if err != nil {
		return nil, err
	}
	logger := logging.New(out, "cli", cfg.Environment, cfg.LogLevel)

	r, err := bootstrap.BuildRouter(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := bootstrap.OpenSink(ctx, cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	engine := bootstrap.NewEngine(cfg, logging.New(out, "stream", cfg.Environment, cfg.LogLevel), nil)
	return &session{cfg: cfg, logger: logger, router: r, store: store, engine: engine, logs: logs}, nil
}

func (rt *session) close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Printf("close store: %v", err)
	}
	_ = rt.logs.Close()
}

func newTurnID() string { return uuid.NewString() }
