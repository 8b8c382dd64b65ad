package generation

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// MockProviderName is the registry name of the offline provider.
const MockProviderName = "mock"

// MockProvider returns a fixed placeholder analysis without calling any
// service. It is the default provider for local runs.
type MockProvider struct {
	model string
}

// NewMockProvider creates a mock provider reporting the given model.
func NewMockProvider(model string) *MockProvider {
	return &MockProvider{model: model}
}

// Name implements Provider.
func (p *MockProvider) Name() string { return MockProviderName }

// Model implements Provider.
func (p *MockProvider) Model() string { return p.model }

// Generate implements Provider.
func (p *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, ClassifyCallError(MockProviderName, err)
	}
	start := time.Now()
	content := fmt.Sprintf(
		"[mock response] this is a placeholder analysis result for local architecture testing.\n\ninput digest: %s",
		digest(req.Prompt, 80),
	)
	in := CountWords(req.Prompt)
	out := CountWords(content)
	return &Response{
		Content:      content,
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		Latency:      time.Since(start),
	}, nil
}

func digest(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
