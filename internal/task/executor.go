package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/generation"
	"github.com/phrazzld/ziwei-api/internal/platform/logger"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc is called after each sub-analysis completes. Calls are
// serialized. Returning an error aborts the batch.
type ProgressFunc func(ctx context.Context, step string, progress int) error

// ExecutorConfig bounds each sub-analysis call.
type ExecutorConfig struct {
	// CallTimeout bounds one provider call. Zero leaves only the context deadline.
	CallTimeout time.Duration
	// MaxRetries is how many times a retryable failure is retried.
	MaxRetries int
	// RetryBaseDelay is the first backoff delay; it doubles per retry.
	RetryBaseDelay time.Duration
}

// BatchResult is the output of a complete batch.
type BatchResult struct {
	Items              map[domain.AnalysisType]domain.Item
	TotalExecutionTime float64
	TotalTokenCount    int
}

// Executor fans the sub-analyses out to a provider concurrently. A batch is
// all or nothing: the first failure cancels the rest and no partial result
// is returned.
type Executor struct {
	cfg      ExecutorConfig
	observer CallObserver
	logger   *slog.Logger
}

// NewExecutor creates an executor. A nil observer discards telemetry.
func NewExecutor(cfg ExecutorConfig, observer CallObserver, log *slog.Logger) *Executor {
	if observer == nil {
		observer = noopObserver{}
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Executor{
		cfg:      cfg,
		observer: observer,
		logger:   log.With("component", "executor"),
	}
}

// Run executes every analysis type over the chart description.
func (e *Executor) Run(
	ctx context.Context,
	provider generation.Provider,
	description string,
	onProgress ProgressFunc,
) (*BatchResult, error) {
	start := time.Now()
	total := len(domain.AnalysisTypes)

	items := make(map[domain.AnalysisType]domain.Item, total)
	var (
		mu      sync.Mutex
		done    int
		stopped error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, at := range domain.AnalysisTypes {
		g.Go(func() error {
			item, err := e.analyze(gctx, provider, at, description)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if stopped != nil {
				return stopped
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			items[at] = item
			done++
			if onProgress == nil {
				return nil
			}
			stopped = onProgress(gctx, "llm_"+string(at), domain.BatchProgress(done, total))
			return stopped
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BatchResult{
		Items:              items,
		TotalExecutionTime: domain.Seconds(time.Since(start)),
	}
	for _, item := range items {
		result.TotalTokenCount += item.TokenCount
	}
	return result, nil
}

// analyze runs one sub-analysis with bounded exponential backoff on
// retryable failures.
func (e *Executor) analyze(
	ctx context.Context,
	provider generation.Provider,
	at domain.AnalysisType,
	description string,
) (domain.Item, error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("analysis_type", string(at)),
		slog.String("provider", provider.Name()),
	)

	prompt, err := generation.BuildPrompt(at, description)
	if err != nil {
		return domain.Item{}, err
	}
	req := generation.Request{
		Prompt:       prompt,
		SystemPrompt: generation.SystemPrompt,
		Timeout:      e.cfg.CallTimeout,
	}

	backoff := retry.WithMaxRetries(uint64(e.cfg.MaxRetries), retry.NewExponential(e.cfg.RetryBaseDelay))
	attempt := 0
	var resp *generation.Response
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := generation.WithTimeout(ctx, req)
		defer cancel()

		r, err := provider.Generate(callCtx, req)
		if err != nil {
			de := generation.ClassifyCallError(provider.Name(), err)
			e.observer.LLMCallFailed(provider.Name(), de.Code)
			if de.Retryable && ctx.Err() == nil {
				log.WarnContext(ctx, "llm call failed, will retry",
					slog.Int("attempt", attempt),
					slog.String("code", de.Code),
					slog.String("error", de.Error()))
				return retry.RetryableError(de)
			}
			return de
		}
		resp = r
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}

	generation.FillUsage(resp, prompt)
	e.observer.ObserveLLMCall(provider.Name(), string(at), resp.Latency, resp.InputTokens, resp.OutputTokens)
	log.DebugContext(ctx, "analysis completed",
		slog.Int("attempts", attempt),
		slog.Duration("latency", resp.Latency),
		slog.Int("tokens", resp.TotalTokens))

	return domain.Item{
		Type:          at,
		Content:       resp.Content,
		ExecutionTime: domain.Seconds(resp.Latency),
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
		TokenCount:    resp.TotalTokens,
	}, nil
}
