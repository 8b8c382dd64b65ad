// Package generation defines the boundary between the analysis pipeline and
// LLM providers: the Provider interface, prompt construction, token
// accounting and error classification. Concrete providers live under
// internal/platform.
package generation

import (
	"context"
	"time"
)

// Request is one prompt sent to a provider.
type Request struct {
	Prompt       string
	SystemPrompt string
	// Timeout bounds the single call. Zero means the context deadline only.
	Timeout time.Duration
}

// Response is a provider's answer with usage accounting.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Latency      time.Duration
}

// Provider generates text for a prompt. Implementations return errors
// classified as *domain.Error so callers can read Retryable directly.
type Provider interface {
	Name() string
	Model() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Registry resolves a provider by name and model.
type Registry interface {
	Provider(name, model string) (Provider, error)
}

// WithTimeout derives the per-call context for req.
func WithTimeout(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if req.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, req.Timeout)
}
