package llm

import (
	"io"
	"log/slog"
	"testing"

	"github.com/phrazzld/ziwei-api/internal/config"
	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	return NewRegistry(config.LLMConfig{
		DeepSeek: config.ProviderConfig{APIKey: "k", BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat"},
		Qwen:     config.ProviderConfig{BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-max-latest"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistryProvider(t *testing.T) {
	t.Parallel()

	r := testRegistry()

	mock, err := r.Provider("mock", "mock-v1")
	require.NoError(t, err)
	assert.Equal(t, "mock", mock.Name())
	assert.Equal(t, "mock-v1", mock.Model())

	ds, err := r.Provider("deepseek", "deepseek-reasoner")
	require.NoError(t, err)
	assert.Equal(t, "deepseek", ds.Name())
	assert.Equal(t, "deepseek-reasoner", ds.Model())

	again, err := r.Provider("deepseek", "deepseek-reasoner")
	require.NoError(t, err)
	assert.Same(t, ds, again)

	defaulted, err := r.Provider("deepseek", "")
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", defaulted.Model())
}

func TestRegistryErrors(t *testing.T) {
	t.Parallel()

	r := testRegistry()

	_, err := r.Provider("claude", "x")
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeUnsupported, de.Code)

	_, err = r.Provider("qwen", "")
	de, ok = domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeLLMUnavailable, de.Code)
	assert.False(t, de.Retryable, "a missing api key does not heal on retry")
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestDefaultModels(t *testing.T) {
	t.Parallel()

	models := testRegistry().DefaultModels()
	assert.Equal(t, "deepseek-chat", models["deepseek"])
	assert.Equal(t, "qwen-max-latest", models["qwen"])
	assert.NotContains(t, models, "glm")
}
