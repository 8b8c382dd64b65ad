// Package openai implements generation.Provider for every backend that
// speaks the OpenAI chat completions protocol: DeepSeek, Qwen and Aliyun
// DashScope, Volcano Ark, Zhipu GLM and OpenAI itself.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/ziwei-api/internal/generation"
	openai "github.com/sashabaranov/go-openai"
)

// Config describes one OpenAI-compatible endpoint.
type Config struct {
	// Name is the registry name reported by the provider, e.g. "deepseek".
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// Provider implements generation.Provider over go-openai.
type Provider struct {
	name   string
	model  string
	client *openai.Client
	logger *slog.Logger
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider validates cfg and creates the client.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s api key is not configured", generation.ErrInvalidConfig, cfg.Name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: %s model cannot be empty", generation.ErrInvalidConfig, cfg.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Provider{
		name:   cfg.Name,
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With(slog.String("component", "openai_provider"), slog.String("provider", cfg.Name)),
	}, nil
}

// Name implements generation.Provider.
func (p *Provider) Name() string { return p.name }

// Model implements generation.Provider.
func (p *Provider) Model() string { return p.model }

// Generate implements generation.Provider.
func (p *Provider) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	callCtx, cancel := generation.WithTimeout(ctx, req)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	})
	latency := time.Since(start)
	if err != nil {
		p.logger.Warn("chat completion failed",
			slog.String("model", p.model),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()))
		return nil, p.classify(callCtx, err)
	}

	if len(resp.Choices) > 0 && resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
		return nil, generation.ClassifyCallError(p.name, generation.ErrContentBlocked)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, generation.ClassifyCallError(p.name, fmt.Errorf("%w: empty choices", generation.ErrInvalidResponse))
	}

	out := &generation.Response{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		Latency:      latency,
	}
	generation.FillUsage(out, req.Prompt)
	return out, nil
}

func (p *Provider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return generation.ClassifyCallError(p.name, ctx.Err())
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return generation.ClassifyStatus(p.name, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return generation.ClassifyStatus(p.name, reqErr.HTTPStatusCode, err)
	}
	return generation.ClassifyCallError(p.name, err)
}
