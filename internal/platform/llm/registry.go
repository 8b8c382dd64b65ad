// Package llm resolves provider names from task records to configured
// generation.Provider instances.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/ziwei-api/internal/config"
	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/generation"
	"github.com/phrazzld/ziwei-api/internal/platform/gemini"
	"github.com/phrazzld/ziwei-api/internal/platform/openai"
)

// openAICompatible lists providers served through the OpenAI protocol.
var openAICompatible = map[string]bool{
	"deepseek": true,
	"qwen":     true,
	"aliyun":   true,
	"volcano":  true,
	"glm":      true,
	"openai":   true,
}

// Registry builds providers on first use and caches them per name and model.
type Registry struct {
	cfg    config.LLMConfig
	logger *slog.Logger

	mu        sync.Mutex
	providers map[string]generation.Provider
}

var _ generation.Registry = (*Registry)(nil)

// NewRegistry creates a registry over the configured providers.
func NewRegistry(cfg config.LLMConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "llm_registry")),
		providers: make(map[string]generation.Provider),
	}
}

// DefaultModels returns the configured default model per provider, used to
// resolve requests that name a provider without a model.
func (r *Registry) DefaultModels() map[string]string {
	models := make(map[string]string)
	for name, pc := range r.cfg.Providers() {
		if pc.Model != "" {
			models[name] = pc.Model
		}
	}
	return models
}

// Provider implements generation.Registry.
func (r *Registry) Provider(name, model string) (generation.Provider, error) {
	key := name + "|" + model

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[key]; ok {
		return p, nil
	}

	p, err := r.build(name, model)
	if err != nil {
		if errors.Is(err, generation.ErrUnknownProvider) {
			return nil, domain.ValidationError(domain.CodeUnsupported, fmt.Sprintf("unknown provider: %s", name), err)
		}
		retryable := !errors.Is(err, generation.ErrInvalidConfig)
		return nil, domain.LLMUnavailableError(fmt.Sprintf("%s provider unavailable", name), retryable, err)
	}

	r.providers[key] = p
	r.logger.Info("llm provider initialized",
		slog.String("provider", name),
		slog.String("model", p.Model()))
	return p, nil
}

func (r *Registry) build(name, model string) (generation.Provider, error) {
	if name == generation.MockProviderName {
		return generation.NewMockProvider(model), nil
	}

	pc, ok := r.cfg.Providers()[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generation.ErrUnknownProvider, name)
	}
	if model == "" {
		model = pc.Model
	}

	if name == gemini.ProviderName {
		return gemini.NewProvider(context.Background(), pc.APIKey, model, r.logger)
	}
	if openAICompatible[name] {
		return openai.NewProvider(openai.Config{
			Name:    name,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   model,
		}, r.logger)
	}
	return nil, fmt.Errorf("%w: %s", generation.ErrUnknownProvider, name)
}
