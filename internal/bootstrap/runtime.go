package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/octoprompt/octostream/internal/adapter"
	"github.com/octoprompt/octostream/internal/adapter/anthropic"
	"github.com/octoprompt/octostream/internal/adapter/gemini"
	"github.com/octoprompt/octostream/internal/adapter/loopback"
	"github.com/octoprompt/octostream/internal/adapter/ollama"
	oaiplugin "github.com/octoprompt/octostream/internal/adapter/openai"
	"github.com/octoprompt/octostream/internal/adapter/router"
	"github.com/octoprompt/octostream/internal/config"
	"github.com/octoprompt/octostream/internal/sink"
	"github.com/octoprompt/octostream/internal/sink/postgres"
	"github.com/octoprompt/octostream/internal/sink/redis"
	"github.com/octoprompt/octostream/internal/sink/sqlite"
	"github.com/octoprompt/octostream/internal/stream"
)

// BuildRouter registers every configured provider, the model routes and the
// fallback provider. Plugins are constructed lazily on first use.
func BuildRouter(cfg config.StreamConfig) (*router.Router, error) {
	keyVars := make(map[string]string)
	for _, p := range cfg.Providers {
		if p.APIKeyEnv != "" {
			keyVars[p.Name] = p.APIKeyEnv
		}
	}
	r := router.New(router.NewEnvKeySource(keyVars))

	for _, p := range cfg.Providers {
		if p.Family == config.FamilyLoopback {
			if err := r.RegisterPlugin(loopback.New()); err != nil {
				return nil, err
			}
			continue
		}
		pc := p
		factory := func(_ context.Context, apiKey string) (adapter.Plugin, error) {
			return NewPlugin(pc, apiKey, cfg)
		}
		var opts []router.RegisterOption
		if p.KeyOptional {
			opts = append(opts, router.KeyOptional())
		}
		if err := r.RegisterFactory(p.Name, factory, opts...); err != nil {
			return nil, err
		}
	}

	for _, rule := range cfg.ModelRoutes {
		if err := r.RegisterRoute(rule.Pattern, rule.Target); err != nil {
			return nil, fmt.Errorf("model route %s=>%s: %w", rule.Pattern, rule.Target, err)
		}
	}
	if cfg.DefaultProvider != "" {
		if err := r.SetFallback(cfg.DefaultProvider); err != nil {
			return nil, fmt.Errorf("default provider: %w", err)
		}
	}
	return r, nil
}

// NewPlugin constructs the plugin for one provider entry.
func NewPlugin(p config.ProviderConfig, apiKey string, cfg config.StreamConfig) (adapter.Plugin, error) {
	switch p.Family {
	case config.FamilyOpenAI:
		return oaiplugin.New(oaiplugin.Config{
			Name:          p.Name,
			APIKey:        apiKey,
			BaseURL:       p.BaseURL,
			Organization:  p.Organization,
			DefaultModel:  p.DefaultModel,
			Headers:       p.Headers,
			KeyOptional:   p.KeyOptional,
			HeaderTimeout: cfg.HeaderTimeout,
		})
	case config.FamilyAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:        apiKey,
			BaseURL:       p.BaseURL,
			Version:       p.Version,
			DefaultModel:  p.DefaultModel,
			HeaderTimeout: cfg.HeaderTimeout,
		})
	case config.FamilyGemini:
		return gemini.New(gemini.Config{
			APIKey:        apiKey,
			BaseURL:       p.BaseURL,
			DefaultModel:  p.DefaultModel,
			HeaderTimeout: cfg.HeaderTimeout,
		})
	case config.FamilyOllama:
		return ollama.New(ollama.Config{
			APIKey:        apiKey,
			BaseURL:       p.BaseURL,
			DefaultModel:  p.DefaultModel,
			HeaderTimeout: cfg.HeaderTimeout,
		})
	case config.FamilyLoopback:
		return loopback.New(), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown family %q", p.Name, p.Family)
	}
}

// OpenSink opens the turn store selected by cfg.SinkDriver.
func OpenSink(ctx context.Context, cfg config.StreamConfig) (sink.Store, error) {
	switch cfg.SinkDriver {
	case "memory":
		return sink.NewMemory(), nil
	case "sqlite", "":
		path := cfg.SinkDSN
		if path == "" {
			path = config.DefaultSinkPath()
		}
		return sqlite.New(path)
	case "postgres":
		return postgres.New(postgres.Config{
			DSN:    cfg.SinkDSN,
			Driver: cfg.PostgresDriver,
			Table:  cfg.SinkTable,
		})
	case "redis":
		return redis.New(ctx, redis.Config{
			URL:    cfg.SinkDSN,
			Prefix: cfg.SinkTable,
			TTL:    cfg.SinkTTL,
		})
	default:
		return nil, fmt.Errorf("unknown sink driver %q", cfg.SinkDriver)
	}
}

// NewEngine builds a streaming engine from cfg.
func NewEngine(cfg config.StreamConfig, logger *log.Logger, recorder stream.Recorder) *stream.Engine {
	opts := []stream.Option{
		stream.WithLogger(cfg.LogLevel, logger),
		stream.WithMaxLineBytes(cfg.MaxLineBytes),
		stream.WithFlushTimeout(cfg.FlushTimeout),
	}
	if recorder != nil {
		opts = append(opts, stream.WithRecorder(recorder))
	}
	return stream.New(opts...)
}

// DefaultOptions returns the sampling defaults configured in cfg.
func DefaultOptions(cfg config.StreamConfig) adapter.Options {
	opts := adapter.DefaultOptions()
	if cfg.Temperature > 0 {
		opts.Temperature = adapter.Float(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		opts.MaxTokens = adapter.Int(cfg.MaxTokens)
	}
	if cfg.TopP > 0 {
		opts.TopP = adapter.Float(cfg.TopP)
	}
	return opts
}
