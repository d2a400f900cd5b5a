package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrMissingKey is returned when no credential is configured for a provider.
var ErrMissingKey = errors.New("router: api key not configured")

// KeySource resolves the API key of a provider.
type KeySource interface {
	APIKey(ctx context.Context, provider string) (string, error)
}

// DefaultKeyEnv maps providers to the environment variables holding their
// keys.
var DefaultKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GOOGLE_API_KEY",
	"groq":       "GROQ_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"xai":        "XAI_API_KEY",
	"together":   "TOGETHER_AI_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
}

// EnvKeySource reads keys from environment variables.
type EnvKeySource struct {
	vars   map[string]string
	lookup func(string) (string, bool)
}

// NewEnvKeySource creates an EnvKeySource. vars extends or overrides
// DefaultKeyEnv.
func NewEnvKeySource(vars map[string]string) *EnvKeySource {
	merged := make(map[string]string, len(DefaultKeyEnv)+len(vars))
	for k, v := range DefaultKeyEnv {
		merged[k] = v
	}
	for k, v := range vars {
		if v != "" {
			merged[normalize(k)] = v
		}
	}
	return &EnvKeySource{vars: merged, lookup: os.LookupEnv}
}

// APIKey implements KeySource.
func (s *EnvKeySource) APIKey(_ context.Context, provider string) (string, error) {
	name, ok := s.vars[normalize(provider)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingKey, provider)
	}
	v, ok := s.lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s (set %s)", ErrMissingKey, provider, name)
	}
	return strings.TrimSpace(v), nil
}

// StaticKeySource serves keys from a fixed map.
type StaticKeySource map[string]string

// APIKey implements KeySource.
func (s StaticKeySource) APIKey(_ context.Context, provider string) (string, error) {
	if v := strings.TrimSpace(s[normalize(provider)]); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingKey, provider)
}

// ChainKeySource tries each source in order and returns the first key
// found. Errors other than ErrMissingKey stop the search.
type ChainKeySource []KeySource

// APIKey implements KeySource.
func (c ChainKeySource) APIKey(ctx context.Context, provider string) (string, error) {
	for _, src := range c {
		key, err := src.APIKey(ctx, provider)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrMissingKey) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMissingKey, provider)
}
