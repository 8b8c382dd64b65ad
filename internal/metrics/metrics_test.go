package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/ziwei-api/internal/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleEvent(t *testing.T) {
	t.Parallel()
	m := New()
	ctx := context.Background()

	require.NoError(t, m.HandleEvent(ctx, events.NewTaskEvent(events.TaskSubmitted, "task_1", "fp", "mock", "mock-v1")))
	require.NoError(t, m.HandleEvent(ctx, events.NewTaskEvent(events.TaskSubmitted, "task_2", "fp", "mock", "mock-v1")))

	done := events.NewTaskEvent(events.TaskSucceeded, "task_1", "fp", "mock", "mock-v1")
	done.Duration = 3 * time.Second
	require.NoError(t, m.HandleEvent(ctx, done))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.taskEvents.WithLabelValues("task.submitted", "mock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskEvents.WithLabelValues("task.succeeded", "mock")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.taskDuration))
}

func TestLLMAndQueueCounters(t *testing.T) {
	t.Parallel()
	m := New()

	m.ObserveLLMCall("deepseek", "challenges", 2*time.Second, 100, 40)
	m.ObserveLLMCall("deepseek", "challenges", time.Second, 10, 5)
	m.LLMCallFailed("deepseek", "A3001")
	m.JobProcessed("acked")
	m.TasksReaped(3)

	assert.Equal(t, 110.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("deepseek", "challenges", "input")))
	assert.Equal(t, 45.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("deepseek", "challenges", "output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmErrors.WithLabelValues("deepseek", "A3001")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues("acked")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.tasksReaped))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()
	m := New()
	m.JobProcessed("rejected")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ziwei_queue_jobs_total{outcome="rejected"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
