package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/octoprompt/octostream/internal/adapter"
)

var (
	// ErrUnknownProvider is returned for identifiers with no registration.
	ErrUnknownProvider = errors.New("router: unknown provider")
	// ErrNoRoute is returned when no route matches a model and no fallback
	// is set.
	ErrNoRoute = errors.New("router: no provider for model")
)

// Factory builds a plugin from a resolved API key.
type Factory func(ctx context.Context, apiKey string) (adapter.Plugin, error)

// RegisterOption customises a factory registration.
type RegisterOption func(*registration)

// KeyOptional lets the factory run without an API key (local servers).
func KeyOptional() RegisterOption {
	return func(r *registration) { r.keyOptional = true }
}

type registration struct {
	factory     Factory
	keyOptional bool
}

// Route maps a model pattern to a provider.
type Route struct {
	Pattern  string `json:"pattern"`
	Provider string `json:"provider"`
}

// Router resolves provider identifiers and model names to plugins. Plugins
// are created on first use and memoized; concurrent first calls share one
// key lookup and one construction.
type Router struct {
	mu        sync.RWMutex
	factories map[string]registration
	plugins   map[string]adapter.Plugin
	routes    []Route
	fallback  string
	keys      KeySource
	group     singleflight.Group
}

// New creates a Router that resolves credentials through keys. A nil keys
// source reads the process environment.
func New(keys KeySource) *Router {
	if keys == nil {
		keys = NewEnvKeySource(nil)
	}
	return &Router{
		factories: make(map[string]registration),
		plugins:   make(map[string]adapter.Plugin),
		keys:      keys,
	}
}

// RegisterFactory registers a lazily constructed provider.
func (r *Router) RegisterFactory(name string, factory Factory, opts ...RegisterOption) error {
	name = normalize(name)
	if name == "" {
		return errors.New("router: provider name cannot be empty")
	}
	if factory == nil {
		return errors.New("router: factory cannot be nil")
	}
	reg := registration{factory: factory}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = reg
	delete(r.plugins, name)
	return nil
}

// RegisterPlugin registers a ready-made plugin under its own name.
func (r *Router) RegisterPlugin(p adapter.Plugin) error {
	if p == nil {
		return errors.New("router: plugin cannot be nil")
	}
	name := normalize(p.Name())
	if name == "" {
		return errors.New("router: provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = registration{
		factory:     func(context.Context, string) (adapter.Plugin, error) { return p, nil },
		keyOptional: true,
	}
	r.plugins[name] = p
	return nil
}

// RegisterRoute appends a model pattern to provider mapping. Routes are
// tried in registration order. Patterns support:
// - Exact match: "gpt-4"
// - Prefix match: "gpt-*"
// - Suffix match: "*-turbo"
// - Contains match: "*3.5*"
func (r *Router) RegisterRoute(pattern, provider string) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	provider = normalize(provider)
	if pattern == "" {
		return errors.New("router: model pattern cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[provider]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	r.routes = append(r.routes, Route{Pattern: pattern, Provider: provider})
	return nil
}

// SetFallback selects the provider used when no route matches.
func (r *Router) SetFallback(provider string) error {
	provider = normalize(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[provider]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	r.fallback = provider
	return nil
}

// Plugin returns the memoized plugin for provider, creating it on first use.
// Construction errors are not cached.
func (r *Router) Plugin(ctx context.Context, provider string) (adapter.Plugin, error) {
	provider = normalize(provider)

	r.mu.RLock()
	p, ok := r.plugins[provider]
	reg, known := r.factories[provider]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	res, err, _ := r.group.Do(provider, func() (any, error) {
		// shared by every waiter, so one caller's cancellation must not fail the rest
		ctx := context.WithoutCancel(ctx)
		// recheck: a concurrent caller may have finished first
		r.mu.RLock()
		p, ok := r.plugins[provider]
		r.mu.RUnlock()
		if ok {
			return p, nil
		}

		key, err := r.keys.APIKey(ctx, provider)
		if err != nil && !(reg.keyOptional && errors.Is(err, ErrMissingKey)) {
			return nil, err
		}
		p, err = reg.factory(ctx, key)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.plugins[provider] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(adapter.Plugin), nil
}

// PluginForModel resolves model through the routes and returns the plugin.
func (r *Router) PluginForModel(ctx context.Context, model string) (adapter.Plugin, error) {
	provider, err := r.ProviderForModel(model)
	if err != nil {
		return nil, err
	}
	return r.Plugin(ctx, provider)
}

// ProviderForModel returns the provider a model routes to.
func (r *Router) ProviderForModel(model string) (string, error) {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return "", errors.New("router: model name required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		if matchPattern(model, route.Pattern) {
			return route.Provider, nil
		}
	}
	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", fmt.Errorf("%w %q", ErrNoRoute, model)
}

// Invalidate drops the memoized plugin so the next call rebuilds it, for
// example after a key rotation.
func (r *Router) Invalidate(provider string) {
	provider = normalize(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[provider]; ok {
		delete(r.plugins, provider)
	}
}

// matchPattern checks if a model matches a pattern.
func matchPattern(model, pattern string) bool {
	if model == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	hasPrefix := strings.HasPrefix(pattern, "*")
	hasSuffix := strings.HasSuffix(pattern, "*")
	switch {
	case hasPrefix && hasSuffix:
		return strings.Contains(model, strings.Trim(pattern, "*"))
	case hasSuffix:
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	case hasPrefix:
		return strings.HasSuffix(model, strings.TrimPrefix(pattern, "*"))
	}
	return false
}

// ListProviders returns all registered provider names, sorted.
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRoutes returns the routes in match order.
func (r *Router) ListRoutes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Route(nil), r.routes...)
}

// Fallback returns the fallback provider, if any.
func (r *Router) Fallback() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
