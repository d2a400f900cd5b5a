package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/octoprompt/octostream/internal/adapter"
	"github.com/octoprompt/octostream/internal/bootstrap"
	"github.com/octoprompt/octostream/internal/config"
	"github.com/octoprompt/octostream/internal/sink"
	"github.com/octoprompt/octostream/internal/stream"
	"github.com/octoprompt/octostream/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:    "streamctl",
		Usage:   "stream LLM replies into the turn store",
		Version: version.FullInfo(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "directory holding config/"},
		},
		Commands: []*cli.Command{
			initCommand(),
			streamCommand(),
			showCommand(),
			providersCommand(),
		},
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
		os.Exit(1)
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "scaffold config/setting.ini, config/<env>/streamd.ini and config/providers.yaml",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Value: "dev"},
			&cli.StringFlag{Name: "http-address"},
			&cli.StringFlag{Name: "sink", Usage: "sqlite, postgres, redis or memory"},
			&cli.StringFlag{Name: "dsn", Usage: "sink location"},
			&cli.StringFlag{Name: "provider", Usage: "fallback provider"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite existing files"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts := bootstrap.InitOptions{
				Root:            cmd.String("root"),
				Environment:     cmd.String("env"),
				HTTPAddress:     cmd.String("http-address"),
				SinkDriver:      cmd.String("sink"),
				SinkDSN:         cmd.String("dsn"),
				DefaultProvider: cmd.String("provider"),
				Force:           cmd.Bool("force"),
			}
			if err := bootstrap.Init(opts); err != nil {
				return err
			}
			fmt.Printf("configuration written under %s/config\n", opts.Root)
			return nil
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "stream one reply to stdout and persist it",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider"},
			&cli.StringFlag{Name: "model"},
			&cli.StringFlag{Name: "chat", Value: "cli"},
			&cli.StringFlag{Name: "turn", Usage: "turn id, generated when empty"},
			&cli.StringFlag{Name: "system"},
			&cli.StringFlag{Name: "temperature"},
			&cli.StringFlag{Name: "max-tokens"},
		},
		Action: runStream,
	}
}

func runStream(ctx context.Context, cmd *cli.Command) error {
	message := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if message == "" {
		return errors.New("message required")
	}
	rt, err := openSession(ctx, cmd.String("root"))
	if err != nil {
		return err
	}
	defer rt.close()

	var plugin adapter.Plugin
	if name := cmd.String("provider"); name != "" {
		plugin, err = rt.router.Plugin(ctx, name)
	} else {
		plugin, err = rt.router.PluginForModel(ctx, cmd.String("model"))
	}
	if err != nil {
		return err
	}

	opts := adapter.Options{Model: cmd.String("model")}
	if v := cmd.String("temperature"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q: %w", v, err)
		}
		opts.Temperature = adapter.Float(f)
	}
	if v := cmd.String("max-tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid max-tokens %q: %w", v, err)
		}
		opts.MaxTokens = adapter.Int(n)
	}

	turnID := cmd.String("turn")
	if turnID == "" {
		turnID = newTurnID()
	}
	req := adapter.StreamRequest{
		ChatID:  cmd.String("chat"),
		TurnID:  turnID,
		Message: message,
		System:  cmd.String("system"),
		Options: opts.WithDefaults(bootstrap.DefaultOptions(rt.cfg)),
	}

	relay := sink.NewRelay(rt.store, func(delta string) error {
		_, err := io.WriteString(os.Stdout, delta)
		return err
	})
	rt.logger.Printf("stream turn=%s provider=%s", turnID, plugin.Name())
	res, err := rt.engine.Run(ctx, plugin, req, relay)
	fmt.Println()
	if err != nil {
		var sErr *stream.Error
		if errors.As(err, &sErr) {
			rt.logger.Printf("stream turn=%s failed kind=%s flushed=%v partial_len=%d", turnID, sErr.Kind, sErr.Flushed, len(sErr.Partial))
		}
		return err
	}
	rt.logger.Printf("stream turn=%s finished terminal=%s deltas=%d sink_writes=%d duration=%s",
		turnID, res.Terminal, res.Deltas, res.SinkWrites, res.Duration)
	return nil
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "print a persisted turn",
		ArgsUsage: "<turn-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the full record as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			turnID := cmd.Args().First()
			if turnID == "" {
				return errors.New("turn id required")
			}
			rt, err := openSession(ctx, cmd.String("root"))
			if err != nil {
				return err
			}
			defer rt.close()
			turn, err := rt.store.Turn(ctx, turnID)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(turn)
			}
			fmt.Println(turn.Content)
			return nil
		},
	}
}

func providersCommand() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "list configured providers and model routes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.LoadStreamConfig(cmd.String("root"))
			if err != nil {
				return err
			}
			for _, p := range cfg.Providers {
				key := p.APIKeyEnv
				if key == "" {
					key = "-"
				}
				fmt.Printf("%-12s family=%-10s key_env=%s base_url=%s\n", p.Name, p.Family, key, p.BaseURL)
			}
			for _, r := range cfg.ModelRoutes {
				fmt.Printf("route %s => %s\n", r.Pattern, r.Target)
			}
			if cfg.DefaultProvider != "" {
				fmt.Printf("fallback %s\n", cfg.DefaultProvider)
			}
			return nil
		},
	}
}
