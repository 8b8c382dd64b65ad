package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewProvider(Config{Name: "deepseek", APIKey: "test-key", BaseURL: srv.URL + "/v1/", Model: "deepseek-chat"}, testLogger())
	require.NoError(t, err)
	return p
}

func TestProviderGenerate(t *testing.T) {
	t.Parallel()

	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "伴侣温和"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 5, "total_tokens": 35}
		}`)
	})

	resp, err := p.Generate(context.Background(), generation.Request{
		Prompt:       "分析",
		SystemPrompt: generation.SystemPrompt,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "伴侣温和", resp.Content)
	assert.Equal(t, 30, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
	assert.Equal(t, 35, resp.TotalTokens)
	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "分析", got.Messages[1].Content)
	assert.Equal(t, "deepseek", p.Name())
}

func TestProviderErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		code      string
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, domain.CodeLLMUnavailable, false},
		{"rate limited", http.StatusTooManyRequests, domain.CodeRateLimited, true},
		{"server error", http.StatusInternalServerError, domain.CodeLLMUnavailable, true},
		{"bad request", http.StatusBadRequest, domain.CodeLLMUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error": {"message": "nope", "type": "error"}}`)
			})

			_, err := p.Generate(context.Background(), generation.Request{Prompt: "x"})
			require.Error(t, err)
			de, ok := domain.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, tt.retryable, de.Retryable)
		})
	}
}

func TestProviderTimeout(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	_, err := p.Generate(context.Background(), generation.Request{Prompt: "x", Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeLLMTimeout, de.Code)
	assert.True(t, de.Retryable)
}

func TestNewProviderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(Config{Name: "qwen", Model: "qwen-max"}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewProvider(Config{Name: "qwen", APIKey: "k"}, nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}
