package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/ziwei-api/internal/analysis"
	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/platform/memory"
	"github.com/phrazzld/ziwei-api/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	svc     *analysis.Service
	results *memory.ResultStore
	queue   *queue.MemoryQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		results: memory.NewResultStore(),
		queue:   queue.NewMemoryQueue(8, log),
	}
	svc, err := analysis.NewService(memory.NewTaskStore(), h.results, h.queue, nil, analysis.Config{
		Defaults:     domain.Defaults{Provider: "mock", Model: "mock-v1", PromptVersion: "v1"},
		MaxTaskRetry: 2,
		JobTimeout:   time.Minute,
	}, log)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(func(context.Context) (analyzer, func(), error) {
		return h.svc, func() {}, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitAndStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out, err := h.run(t, "submit", "--date", "1990-01-01", "--timezone", "8", "--gender", "男")
	require.NoError(t, err)

	var sub analysis.SubmissionResult
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	assert.False(t, sub.HitCache)
	assert.Equal(t, domain.TaskStatusQueued, sub.Status)
	assert.Equal(t, 1, h.queue.Len())

	out, err = h.run(t, "status", sub.TaskID)
	require.NoError(t, err)
	var view analysis.TaskView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, sub.TaskID, view.TaskID)

	out, err = h.run(t, "cancel", sub.TaskID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, domain.TaskStatusCancelled, view.Status)

	_, err = h.run(t, "retry", sub.TaskID)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeConflict, de.Code)
}

func TestSubmitRequiresFlags(t *testing.T) {
	t.Parallel()
	_, err := newHarness(t).run(t, "submit", "--timezone", "8")
	assert.Error(t, err)
}

func TestResultCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	items := make(map[domain.AnalysisType]domain.Item)
	for _, at := range domain.AnalysisTypes {
		items[at] = domain.Item{Type: at, Content: "about " + string(at), TokenCount: 4}
	}
	norm, err := domain.BirthRequest{Date: "1990-01-01", Timezone: 8, Gender: "男", Calendar: domain.CalendarSolar}.
		Normalize(domain.Defaults{Provider: "mock", Model: "mock-v1", PromptVersion: "v1"})
	require.NoError(t, err)
	id, err := h.results.Save(context.Background(), &domain.Result{
		Fingerprint: norm.Fingerprint,
		Request:     norm.Snapshot,
		Description: "命宫",
		Items:       items,
	})
	require.NoError(t, err)

	out, err := h.run(t, "cache", "--date", "1990-01-01", "--timezone", "8", "--gender", "男")
	require.NoError(t, err)
	var cached analysis.CacheLookupResult
	require.NoError(t, json.Unmarshal([]byte(out), &cached))
	assert.True(t, cached.Hit)

	out, err = h.run(t, "result", "1")
	require.NoError(t, err)
	var view analysis.ResultView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, id, view.ID)
	assert.Len(t, view.Items, 3)

	out, err = h.run(t, "item", "1", "challenges")
	require.NoError(t, err)
	assert.Contains(t, out, "about challenges")

	out, err = h.run(t, "history", "--page-size", "5")
	require.NoError(t, err)
	var page analysis.HistoryPage
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)

	out, err = h.run(t, "export", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "# 紫微斗数分析报告")

	dir := t.TempDir()
	_, err = h.run(t, "export", "1", "--scope", "challenges", "--dir", dir)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dir, "ziwei_1_challenges.md"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "## 困难挑战分析")

	_, err = h.run(t, "result", "abc")
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeInvalidRequest, de.Code)
}
