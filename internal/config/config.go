package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/streamd.ini"
	dotEnvFile       = ".env"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// StreamConfig describes runtime options for the daemon and the CLI.
type StreamConfig struct {
	Environment   string
	HTTPAddress   string
	LogFile       string
	LogFileCLI    string
	LogFileDaemon string
	LogLevel      string

	// SinkDriver is one of sqlite, postgres, redis, memory.
	SinkDriver     string
	SinkDSN        string
	SinkTable      string
	SinkTTL        time.Duration
	PostgresDriver string

	DefaultProvider string
	ModelRoutes     []RouteRule
	ProvidersFile   string
	Providers       []ProviderConfig

	Temperature   float64
	MaxTokens     int
	TopP          float64
	MaxLineBytes  int
	HeaderTimeout time.Duration
	FlushTimeout  time.Duration
}

// RouteRule maps a model pattern to a provider.
type RouteRule struct {
	Pattern string
	Target  string
}

// LoadStreamConfig reads .env, the current environment and the matching
// streamd.ini. Environment variables (OCTOSTREAM_*) win over files.
func LoadStreamConfig(root string) (StreamConfig, error) {
	if root == "" {
		root = "."
	}
	if err := loadDotEnv(filepath.Join(root, dotEnvFile)); err != nil {
		return StreamConfig{}, err
	}
	s, err := loadSettings(root)
	if err != nil {
		return StreamConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return StreamConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := StreamConfig{
		Environment:     s.Environment,
		HTTPAddress:     firstNonEmpty(os.Getenv("OCTOSTREAM_HTTP_ADDRESS"), merged["http_address"], ":8090"),
		LogFile:         firstNonEmpty(os.Getenv("OCTOSTREAM_LOG_FILE"), merged["log_file"]),
		LogLevel:        strings.ToLower(firstNonEmpty(os.Getenv("OCTOSTREAM_LOG_LEVEL"), merged["log_level"], "info")),
		SinkDriver:      strings.ToLower(firstNonEmpty(os.Getenv("OCTOSTREAM_SINK_DRIVER"), merged["sink_driver"], "sqlite")),
		SinkDSN:         firstNonEmpty(os.Getenv("OCTOSTREAM_SINK_DSN"), merged["sink_dsn"]),
		SinkTable:       firstNonEmpty(os.Getenv("OCTOSTREAM_SINK_TABLE"), merged["sink_table"]),
		PostgresDriver:  firstNonEmpty(merged["postgres_driver"], "pgx"),
		DefaultProvider: strings.ToLower(firstNonEmpty(os.Getenv("OCTOSTREAM_DEFAULT_PROVIDER"), merged["default_provider"])),
		ModelRoutes:     parseRouteList(firstNonEmpty(os.Getenv("OCTOSTREAM_MODEL_ROUTES"), merged["model_routes"])),
		ProvidersFile:   firstNonEmpty(os.Getenv("OCTOSTREAM_PROVIDERS_FILE"), merged["providers_file"], filepath.Join(root, defaultProvidersFile)),
		MaxTokens:       parseOptionalInt(merged["max_tokens"], 10000),
		MaxLineBytes:    parseOptionalInt(merged["max_line_bytes"], 4<<20),
	}
	cfg.LogFileCLI = firstNonEmpty(os.Getenv("OCTOSTREAM_LOG_FILE_CLI"), os.Getenv("OCTOSTREAM_LOG_FILE"), merged["log_file_cli"], merged["log_file"])
	cfg.LogFileDaemon = firstNonEmpty(os.Getenv("OCTOSTREAM_LOG_FILE_DAEMON"), os.Getenv("OCTOSTREAM_LOG_FILE"), merged["log_file_daemon"], merged["log_file"])

	if cfg.Temperature, err = parseOptionalFloat("temperature", merged["temperature"], 0.7); err != nil {
		return StreamConfig{}, err
	}
	if cfg.TopP, err = parseOptionalFloat("top_p", merged["top_p"], 1); err != nil {
		return StreamConfig{}, err
	}
	if cfg.HeaderTimeout, err = parseOptionalDuration("header_timeout", merged["header_timeout"], 60*time.Second); err != nil {
		return StreamConfig{}, err
	}
	if cfg.FlushTimeout, err = parseOptionalDuration("flush_timeout", merged["flush_timeout"], 10*time.Second); err != nil {
		return StreamConfig{}, err
	}
	if cfg.SinkTTL, err = parseOptionalDuration("sink_ttl", merged["sink_ttl"], 0); err != nil {
		return StreamConfig{}, err
	}

	switch cfg.SinkDriver {
	case "sqlite":
		cfg.SinkDSN = firstNonEmpty(cfg.SinkDSN, DefaultSinkPath())
	case "postgres", "redis":
		if strings.TrimSpace(cfg.SinkDSN) == "" {
			return StreamConfig{}, fmt.Errorf("sink_dsn required for sink_driver %q", cfg.SinkDriver)
		}
	case "memory":
	default:
		return StreamConfig{}, fmt.Errorf("invalid sink_driver %q", cfg.SinkDriver)
	}

	cfg.Providers, err = LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return StreamConfig{}, err
	}
	if len(cfg.ModelRoutes) == 0 {
		cfg.ModelRoutes = []RouteRule{
			{Pattern: "gpt*", Target: "openai"},
			{Pattern: "claude*", Target: "anthropic"},
			{Pattern: "gemini*", Target: "gemini"},
			{Pattern: "llama*", Target: "ollama"},
		}
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	// existing environment variables are never overridden
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv("OCTOSTREAM_ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("OCTOSTREAM_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

// parseINI flattens every section of an INI file into one lower-cased map.
func parseINI(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	file, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:         true,
		IgnoreInlineComment: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make(map[string]string)
	for _, section := range file.Sections() {
		for _, key := range section.Keys() {
			values[key.Name()] = strings.TrimSpace(key.String())
		}
	}
	return values, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(name, v string, fallback float64) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return f, nil
}

func parseOptionalDuration(name, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseRouteList preserves ordering for pattern=>target rules (comma or newline separated).
func parseRouteList(input string) []RouteRule {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var rules []RouteRule
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			entry := strings.TrimSpace(part)
			if entry == "" {
				continue
			}
			var kv []string
			if strings.Contains(entry, "=>") {
				kv = strings.SplitN(entry, "=>", 2)
			} else {
				kv = strings.SplitN(entry, "=", 2)
			}
			if len(kv) != 2 {
				continue
			}
			pattern := strings.TrimSpace(kv[0])
			target := strings.TrimSpace(kv[1])
			if pattern == "" || target == "" {
				continue
			}
			rules = append(rules, RouteRule{Pattern: pattern, Target: strings.ToLower(target)})
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return rules
}

// DefaultSinkPath returns the fallback turn store under the user's home directory.
func DefaultSinkPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "turns.db"
	}
	return filepath.Join(home, ".octostream", "turns.db")
}
