package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/ziwei-api/internal/generation"
	"google.golang.org/genai"
)

// ProviderName is the registry name of this provider.
const ProviderName = "gemini"

// contentGenerator is the slice of the genai client used here.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Provider implements generation.Provider using Gemini.
type Provider struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider creates a Gemini provider. The API key is required.
func NewProvider(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is not configured", generation.ErrInvalidConfig)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: gemini model cannot be empty", generation.ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return newProvider(client.Models, model, logger), nil
}

func newProvider(models contentGenerator, model string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		models: models,
		model:  model,
		logger: logger.With(slog.String("component", "gemini_provider")),
	}
}

// Name implements generation.Provider.
func (p *Provider) Name() string { return ProviderName }

// Model implements generation.Provider.
func (p *Provider) Model() string { return p.model }

// Generate implements generation.Provider.
func (p *Provider) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	callCtx, cancel := generation.WithTimeout(ctx, req)
	defer cancel()

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	start := time.Now()
	resp, err := p.models.GenerateContent(callCtx, p.model, contents, cfg)
	latency := time.Since(start)
	if err != nil {
		p.logger.Warn("gemini call failed",
			slog.String("model", p.model),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()))
		return nil, classify(callCtx, err)
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, generation.ClassifyCallError(ProviderName, err)
	}

	out := &generation.Response{Content: text, Latency: latency}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	generation.FillUsage(out, req.Prompt)
	return out, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: %s", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("%w: no candidates", generation.ErrInvalidResponse)
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part != nil && part.Text != "" {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty content", generation.ErrInvalidResponse)
	}
	return b.String(), nil
}

var statusRegex = regexp.MustCompile(`Error (\d{3})`)

// classify maps a genai error to a tagged error. The SDK embeds the HTTP
// status in the message as "Error <code>, Message: ...".
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return generation.ClassifyCallError(ProviderName, ctx.Err())
	}
	msg := err.Error()
	if m := statusRegex.FindStringSubmatch(msg); len(m) == 2 {
		if status, convErr := strconv.Atoi(m[1]); convErr == nil {
			return generation.ClassifyStatus(ProviderName, status, err)
		}
	}
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return generation.ClassifyStatus(ProviderName, 429, err)
	}
	return generation.ClassifyCallError(ProviderName, err)
}
