//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/ziwei-api/internal/config"
	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("ziwei_test"),
		tcpostgres.WithUsername("ziwei"),
		tcpostgres.WithPassword("ziwei"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err == nil {
		testDB, err = Open(ctx, config.DatabaseConfig{URL: dsn, MaxOpenConns: 10})
	}
	if err == nil {
		err = Migrate(ctx, testDB, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare database: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}

	code := m.Run()
	_ = testDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTask(t *testing.T, date string) *domain.Task {
	t.Helper()
	req, err := domain.BirthRequest{
		Date:     date,
		Timezone: 8,
		Gender:   domain.GenderFemale,
		Calendar: domain.CalendarLunar,
	}.Normalize(domain.Defaults{Provider: "mock", Model: "mock-v1", PromptVersion: "v1"})
	require.NoError(t, err)
	task, err := domain.NewTask(req, time.Now())
	require.NoError(t, err)
	return task
}

func newTestResult(fingerprint string) *domain.Result {
	items := make(map[domain.AnalysisType]domain.Item)
	for _, at := range domain.AnalysisTypes {
		items[at] = domain.Item{Type: at, Content: "内容 " + string(at), ExecutionTime: 1.5, TokenCount: 10}
	}
	return &domain.Result{
		Fingerprint:     fingerprint,
		Request:         domain.RequestSnapshot{Date: "1990-01-01", Timezone: 8, Gender: domain.GenderMale, Calendar: domain.CalendarSolar},
		Provider:        "mock",
		Model:           "mock-v1",
		PromptVersion:   "v1",
		Description:     "基本信息",
		Items:           items,
		TotalTokenCount: 30,
	}
}

func TestPostgresTaskStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	tasks := NewPostgresTaskStore(testDB, discardLogger())
	results := NewPostgresResultStore(testDB, discardLogger())
	task := newTestTask(t, "1991-02-03")

	require.NoError(t, tasks.Create(ctx, task))
	assert.ErrorIs(t, tasks.Create(ctx, task), store.ErrDuplicate)

	active, err := tasks.FindActiveByFingerprint(ctx, task.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, task.ID, active.ID)
	assert.Equal(t, task.Request, active.Request)

	require.NoError(t, tasks.MarkRunning(ctx, task.ID, domain.StepGenerateChart, domain.ProgressChart))
	assert.ErrorIs(t, tasks.MarkRunning(ctx, task.ID, domain.StepGenerateChart, domain.ProgressChart), store.ErrTransitionRejected)
	require.NoError(t, tasks.UpdateProgress(ctx, task.ID, domain.StepLLMBatch, domain.ProgressLLMBatch))
	assert.ErrorIs(t, tasks.UpdateProgress(ctx, task.ID, domain.StepLLMBatch, 50), store.ErrTransitionRejected)

	resultID, err := results.Save(ctx, newTestResult(task.Fingerprint))
	require.NoError(t, err)
	require.NoError(t, tasks.MarkSucceeded(ctx, task.ID, resultID))

	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
	assert.Equal(t, domain.ProgressDone, got.Progress)
	require.NotNil(t, got.ResultID)
	assert.Equal(t, resultID, *got.ResultID)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	assert.ErrorIs(t, tasks.MarkCancelled(ctx, task.ID), store.ErrTransitionRejected)
	assert.ErrorIs(t, tasks.MarkCancelled(ctx, "task_doesnotexist00"), store.ErrTaskNotFound)

	_, err = tasks.FindActiveByFingerprint(ctx, task.Fingerprint)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestPostgresTaskStoreRetryAndStale(t *testing.T) {
	ctx := context.Background()
	tasks := NewPostgresTaskStore(testDB, discardLogger())
	task := newTestTask(t, "1992-03-04")
	require.NoError(t, tasks.Create(ctx, task))

	require.NoError(t, tasks.MarkRunning(ctx, task.ID, domain.StepGenerateChart, domain.ProgressChart))
	require.NoError(t, tasks.MarkFailed(ctx, task.ID, domain.CodeChartUnavailable, "chart down", true))
	failed, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, failed.ErrorRetryable)
	require.NoError(t, tasks.Requeue(ctx, task.ID, 1))

	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.ErrorCode)
	assert.False(t, got.ErrorRetryable)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, tasks.MarkRunning(ctx, task.ID, domain.StepGenerateChart, domain.ProgressChart))
	stale, err := tasks.ListStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	var ids []string
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, task.ID)

	require.NoError(t, tasks.MarkFailed(ctx, task.ID, domain.CodeLLMTimeout, "slow", true))
	assert.ErrorIs(t, tasks.Requeue(ctx, task.ID, 1), store.ErrTransitionRejected)
}

func TestPostgresResultStoreConcurrentSave(t *testing.T) {
	ctx := context.Background()
	results := NewPostgresResultStore(testDB, discardLogger())
	fingerprint := fmt.Sprintf("fp-concurrent-%d", time.Now().UnixNano())

	var (
		wg  sync.WaitGroup
		ids = make([]int64, 6)
	)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := results.Save(ctx, newTestResult(fingerprint))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	r, err := results.GetByFingerprint(ctx, fingerprint)
	require.NoError(t, err)
	assert.Len(t, r.Items, len(domain.AnalysisTypes))
	assert.Equal(t, domain.CalendarSolar, r.Request.Calendar)

	item, err := results.GetItem(ctx, r.ID, domain.AnalysisPartnerCharacter)
	require.NoError(t, err)
	assert.Equal(t, "内容 partner_character", item.Content)

	_, err = results.GetItem(ctx, r.ID+100000, domain.AnalysisPartnerCharacter)
	assert.ErrorIs(t, err, store.ErrResultNotFound)

	page, total, err := results.List(ctx, 0, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	assert.NotEmpty(t, page)
}
