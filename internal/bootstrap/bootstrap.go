package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/octoprompt/octostream/internal/config"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root            string
	Environment     string
	HTTPAddress     string
	LogLevel        string
	SinkDriver      string
	SinkDSN         string
	DefaultProvider string
	Force           bool
}

// Init scaffolds configuration files for the stream daemon and CLI.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	streamdPath := filepath.Join(opts.Root, "config", opts.Environment, "streamd.ini")
	if err := writeFile(streamdPath, streamdTemplate(opts), opts.Force); err != nil {
		return err
	}

	providers, err := config.MarshalProviders(config.DefaultProviders())
	if err != nil {
		return fmt.Errorf("render providers: %w", err)
	}
	providersPath := filepath.Join(opts.Root, "config", "providers.yaml")
	return writeFile(providersPath, "# Provider table merged over the built-in defaults\n"+string(providers), opts.Force)
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8090"
	}
	if strings.TrimSpace(opts.LogLevel) == "" {
		opts.LogLevel = "info"
	}
	if strings.TrimSpace(opts.SinkDriver) == "" {
		opts.SinkDriver = "sqlite"
	}
	opts.SinkDriver = strings.ToLower(opts.SinkDriver)
	if opts.SinkDriver == "sqlite" && strings.TrimSpace(opts.SinkDSN) == "" {
		opts.SinkDSN = config.DefaultSinkPath()
	}
	if strings.TrimSpace(opts.DefaultProvider) == "" {
		opts.DefaultProvider = "loopback"
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# octostream settings
environment=%s
log_level=%s
`, opts.Environment, opts.LogLevel)
}

func streamdTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Environment specific overrides for %s
[server]
http_address=%s
# Separate log files (CLI and daemon). Dash '-' disables file output.
log_file_cli=logs/streamctl.log
log_file_daemon=logs/streamd.log

[sink]
sink_driver=%s
sink_dsn=%s

[stream]
default_provider=%s
model_routes=gpt*=>openai, claude*=>anthropic, gemini*=>gemini, llama*=>ollama
max_line_bytes=4194304
header_timeout=60s
flush_timeout=10s
`, opts.Environment, opts.HTTPAddress, opts.SinkDriver, opts.SinkDSN, opts.DefaultProvider)
}

// Validate ensures required fields are present without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	switch opts.SinkDriver {
	case "sqlite", "memory":
	case "postgres", "redis":
		if strings.TrimSpace(opts.SinkDSN) == "" {
			return fmt.Errorf("sink dsn is required for %s", opts.SinkDriver)
		}
	default:
		return fmt.Errorf("unknown sink driver %q", opts.SinkDriver)
	}
	if strings.ContainsAny(opts.Environment, `/\`) {
		return errors.New("environment must be a plain name")
	}
	return nil
}
