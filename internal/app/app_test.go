package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/ziwei-api/internal/api"
	"github.com/phrazzld/ziwei-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Queue:  config.QueueConfig{Backend: "redis", Name: "analysis", RedisURL: "redis://localhost:6379/0"},
		Worker: config.WorkerConfig{Count: 2},
		Analysis: config.AnalysisConfig{
			Provider:       "mock",
			Model:          "mock-v1",
			PromptVersion:  "v1",
			RequestTimeout: 30 * time.Minute,
			MaxTaskRetry:   2,
			PollAfterMs:    2000,
		},
	}
}

func TestServiceConfig(t *testing.T) {
	t.Parallel()
	got := ServiceConfig(testConfig(), map[string]string{"deepseek": "deepseek-chat"})

	assert.Equal(t, "mock", got.Defaults.Provider)
	assert.Equal(t, "mock-v1", got.Defaults.Model)
	assert.Equal(t, "v1", got.Defaults.PromptVersion)
	assert.Equal(t, "deepseek-chat", got.Defaults.ProviderModels["deepseek"])
	assert.Equal(t, 2, got.MaxTaskRetry)
	assert.Equal(t, 30*time.Minute, got.JobTimeout)
	assert.Equal(t, 2000, got.PollAfterMs)
}

func TestOpenQueueRejectsProcessLocalBackends(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, backend := range []string{"memory", "kafka"} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Queue.Backend = backend
			a := &App{Config: cfg, Logger: log, Checks: map[string]api.Check{}}

			err := a.openQueue(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unsupported queue backend")
			assert.Nil(t, a.Queue)
			assert.NotContains(t, a.Checks, "queue")
		})
	}
}

func TestRecoverJobsWithoutRedis(t *testing.T) {
	t.Parallel()
	a := &App{Config: testConfig()}

	n, err := a.RecoverJobs(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
