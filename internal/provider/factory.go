package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error)

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["claude"] = func(_ context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}
	f.constructors["openai"] = func(_ context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}
	f.constructors["ollama"] = func(_ context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Logger: logger}), nil
	}
	f.constructors["ark"] = func(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewArk(ctx, ArkConfig{
			APIKey:    pc.APIKey,
			AccessKey: pc.AccessKey,
			SecretKey: pc.SecretKey,
			BaseURL:   pc.APIBase,
			Region:    pc.Region,
			Model:     pc.DefaultModel,
			Logger:    logger,
		})
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(ctx context.Context, name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	var p domain.Provider
	if ctor, found := f.constructors[name]; found {
		var err error
		if p, err = ctor(ctx, pc, f.logger); err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
	} else if pc.APIBase != "" {
		// Unknown names are treated as OpenAI-compatible endpoints.
		p = NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: f.logger})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	if pc.RateLimitPerMin > 0 {
		p = NewRateLimited(p, pc.RateLimitPerMin)
	}

	f.cache[name] = p
	return p, nil
}

// Completer builds the completion service for the relay: the default
// provider, or a failover chain when general.failoverChain is set.
func (f *Factory) Completer(ctx context.Context) (*Completer, error) {
	chain := f.cfg.General.FailoverChain
	primary := f.cfg.General.DefaultProvider
	pc := f.cfg.Providers[primary]

	var p domain.Provider
	if len(chain) == 0 {
		var err error
		if p, err = f.Get(ctx, primary); err != nil {
			return nil, err
		}
	} else {
		var members []domain.Provider
		for _, name := range chain {
			member, err := f.Get(ctx, name)
			if err != nil {
				f.logger.Warn("skipping provider in failover chain", "provider", name, "err", err)
				continue
			}
			members = append(members, member)
		}
		if len(members) == 0 {
			return nil, fmt.Errorf("no usable provider in failover chain %v", chain)
		}
		p = NewFailoverProvider(members, f.logger)
	}

	return NewCompleter(p, CompleterConfig{
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Logger:      f.logger,
	}), nil
}
