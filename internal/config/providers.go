package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	oaiplugin "github.com/octoprompt/octostream/internal/adapter/openai"
)

const defaultProvidersFile = "config/providers.yaml"

// Provider families understood by the bootstrap layer.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyGemini    = "gemini"
	FamilyOllama    = "ollama"
	FamilyLoopback  = "loopback"
)

// ProviderConfig describes one registered provider.
type ProviderConfig struct {
	Name         string            `yaml:"name"`
	Family       string            `yaml:"family"`
	BaseURL      string            `yaml:"base_url,omitempty"`
	DefaultModel string            `yaml:"default_model,omitempty"`
	APIKeyEnv    string            `yaml:"api_key_env,omitempty"`
	KeyOptional  bool              `yaml:"key_optional,omitempty"`
	Version      string            `yaml:"version,omitempty"`
	Organization string            `yaml:"organization,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// DefaultProviders returns the built-in provider table sorted by name.
func DefaultProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, name := range oaiplugin.PresetNames() {
		preset, _ := oaiplugin.LookupPreset(name)
		out = append(out, ProviderConfig{
			Name:        preset.Name,
			Family:      FamilyOpenAI,
			BaseURL:     preset.BaseURL,
			APIKeyEnv:   preset.APIKeyEnv,
			KeyOptional: preset.KeyOptional,
			Headers:     preset.Headers,
		})
	}
	out = append(out,
		ProviderConfig{Name: "anthropic", Family: FamilyAnthropic, APIKeyEnv: "ANTHROPIC_API_KEY"},
		ProviderConfig{Name: "gemini", Family: FamilyGemini, APIKeyEnv: "GOOGLE_API_KEY"},
		ProviderConfig{Name: "ollama", Family: FamilyOllama, KeyOptional: true},
		ProviderConfig{Name: "loopback", Family: FamilyLoopback, KeyOptional: true},
	)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadProviders merges the providers file at path over DefaultProviders.
// Entries are matched by name; a missing file yields the defaults.
func LoadProviders(path string) ([]ProviderConfig, error) {
	providers := DefaultProviders()
	if strings.TrimSpace(path) == "" {
		return providers, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return providers, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse providers file %s: %w", path, err)
	}

	index := make(map[string]int, len(providers))
	for i, p := range providers {
		index[p.Name] = i
	}
	for _, p := range file.Providers {
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if p.Name == "" {
			return nil, fmt.Errorf("providers file %s: entry without name", path)
		}
		p.Family = strings.ToLower(strings.TrimSpace(p.Family))
		if i, ok := index[p.Name]; ok {
			providers[i] = mergeProvider(providers[i], p)
			continue
		}
		if !validFamily(p.Family) {
			return nil, fmt.Errorf("providers file %s: provider %q has unknown family %q", path, p.Name, p.Family)
		}
		index[p.Name] = len(providers)
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].Name < providers[j].Name })
	return providers, nil
}

// FindProvider returns the provider named name.
func FindProvider(providers []ProviderConfig, name string) (ProviderConfig, bool) {
	for _, p := range providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func mergeProvider(base, override ProviderConfig) ProviderConfig {
	if override.Family != "" {
		base.Family = override.Family
	}
	base.BaseURL = firstNonEmpty(override.BaseURL, base.BaseURL)
	base.DefaultModel = firstNonEmpty(override.DefaultModel, base.DefaultModel)
	base.APIKeyEnv = firstNonEmpty(override.APIKeyEnv, base.APIKeyEnv)
	base.Version = firstNonEmpty(override.Version, base.Version)
	base.Organization = firstNonEmpty(override.Organization, base.Organization)
	base.KeyOptional = base.KeyOptional || override.KeyOptional
	if len(override.Headers) > 0 {
		merged := make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			merged[k] = v
		}
		for k, v := range override.Headers {
			merged[k] = v
		}
		base.Headers = merged
	}
	return base
}

func validFamily(family string) bool {
	switch family {
	case FamilyOpenAI, FamilyAnthropic, FamilyGemini, FamilyOllama, FamilyLoopback:
		return true
	}
	return false
}

// MarshalProviders renders providers in the providers file format.
func MarshalProviders(providers []ProviderConfig) ([]byte, error) {
	return yaml.Marshal(providersFile{Providers: providers})
}
