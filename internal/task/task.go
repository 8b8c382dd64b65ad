package task

import (
	"context"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
)

// ChartDescriber turns birth data into the chart text fed to the prompts.
type ChartDescriber interface {
	Describe(ctx context.Context, s domain.RequestSnapshot) (string, error)
}

// CallObserver receives per-call LLM telemetry.
type CallObserver interface {
	ObserveLLMCall(provider, analysisType string, latency time.Duration, inputTokens, outputTokens int)
	LLMCallFailed(provider, code string)
}

// JobObserver is told how each queue job ended.
type JobObserver interface {
	JobProcessed(outcome string)
}

// ReapObserver counts tasks failed by the reaper.
type ReapObserver interface {
	TasksReaped(n int)
}

type noopObserver struct{}

func (noopObserver) ObserveLLMCall(string, string, time.Duration, int, int) {}
func (noopObserver) LLMCallFailed(string, string)                           {}
func (noopObserver) JobProcessed(string)                                    {}
func (noopObserver) TasksReaped(int)                                        {}
