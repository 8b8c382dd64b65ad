package task

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/generation"
	"github.com/phrazzld/ziwei-api/internal/platform/memory"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCharts struct {
	description string
	err         error
}

func (f fakeCharts) Describe(context.Context, domain.RequestSnapshot) (string, error) {
	return f.description, f.err
}

type staticRegistry struct {
	provider generation.Provider
	err      error
}

func (r staticRegistry) Provider(string, string) (generation.Provider, error) {
	return r.provider, r.err
}

// analysisTypeOf recovers the analysis type from a rendered prompt.
func analysisTypeOf(prompt string) domain.AnalysisType {
	switch {
	case strings.Contains(prompt, "婚姻道路"):
		return domain.AnalysisMarriagePath
	case strings.Contains(prompt, "困难和挑战"):
		return domain.AnalysisChallenges
	default:
		return domain.AnalysisPartnerCharacter
	}
}

// scriptedProvider answers per analysis type. behave returns the error for
// the given attempt (1-based) or nil to succeed.
type scriptedProvider struct {
	behave func(ctx context.Context, at domain.AnalysisType, attempt int) error

	mu    sync.Mutex
	calls map[domain.AnalysisType]int
}

func newScriptedProvider(behave func(ctx context.Context, at domain.AnalysisType, attempt int) error) *scriptedProvider {
	return &scriptedProvider{behave: behave, calls: make(map[domain.AnalysisType]int)}
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-v1" }

func (p *scriptedProvider) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	at := analysisTypeOf(req.Prompt)
	p.mu.Lock()
	p.calls[at]++
	attempt := p.calls[at]
	p.mu.Unlock()

	if p.behave != nil {
		if err := p.behave(ctx, at, attempt); err != nil {
			return nil, err
		}
	}
	return &generation.Response{
		Content:      "analysis of " + string(at),
		InputTokens:  10,
		OutputTokens: 5,
		TotalTokens:  15,
		Latency:      1500 * time.Millisecond,
	}, nil
}

func (p *scriptedProvider) callCount(at domain.AnalysisType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[at]
}

func fastExecutor() *Executor {
	return NewExecutor(ExecutorConfig{
		CallTimeout:    time.Second,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	}, nil, testLogger())
}

func createQueuedTask(t *testing.T, tasks *memory.TaskStore, date string) *domain.Task {
	t.Helper()
	req, err := domain.BirthRequest{
		Date:     date,
		Timezone: 8,
		Gender:   domain.GenderMale,
		Calendar: domain.CalendarSolar,
	}.Normalize(domain.Defaults{Provider: "mock", Model: "mock-v1", PromptVersion: "v1"})
	require.NoError(t, err)
	task, err := domain.NewTask(req, time.Now())
	require.NoError(t, err)
	require.NoError(t, tasks.Create(context.Background(), task))
	return task
}
