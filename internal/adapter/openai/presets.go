package openai

import "sort"

// Preset describes a known OpenAI compatible vendor.
type Preset struct {
	Name        string
	BaseURL     string
	APIKeyEnv   string
	KeyOptional bool
	Headers     map[string]string
}

var presets = map[string]Preset{
	"openai":   {Name: "openai", BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY"},
	"groq":     {Name: "groq", BaseURL: "https://api.groq.com/openai/v1", APIKeyEnv: "GROQ_API_KEY"},
	"together": {Name: "together", BaseURL: "https://api.together.xyz/v1", APIKeyEnv: "TOGETHER_AI_API_KEY"},
	"xai":      {Name: "xai", BaseURL: "https://api.x.ai/v1", APIKeyEnv: "XAI_API_KEY"},
	"mistral":  {Name: "mistral", BaseURL: "https://api.mistral.ai/v1", APIKeyEnv: "MISTRAL_API_KEY"},
	"lmstudio": {Name: "lmstudio", BaseURL: "http://localhost:1234/v1", KeyOptional: true},
	"openrouter": {
		Name:      "openrouter",
		BaseURL:   "https://openrouter.ai/api/v1",
		APIKeyEnv: "OPENROUTER_API_KEY",
		Headers: map[string]string{
			"HTTP-Referer": "https://github.com/octoprompt/octostream",
			"X-Title":      "octostream",
		},
	},
}

// LookupPreset returns the preset registered under name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the known vendors in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns a plugin configuration for the preset using apiKey.
func (p Preset) Config(apiKey string) Config {
	headers := make(map[string]string, len(p.Headers))
	for k, v := range p.Headers {
		headers[k] = v
	}
	return Config{
		Name:        p.Name,
		APIKey:      apiKey,
		BaseURL:     p.BaseURL,
		Headers:     headers,
		KeyOptional: p.KeyOptional,
	}
}
