package redact_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/ziwei-api/internal/redact"
	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "no sensitive data",
			input:    "chart service unavailable: connection refused",
			expected: "chart service unavailable: connection refused",
		},
		{
			name:     "postgres dsn",
			input:    "dial postgres://ziwei:hunter22@db:5432/ziwei failed",
			expected: "dial postgres://[REDACTED_CREDENTIAL]@db:5432/ziwei failed",
		},
		{
			name:     "redis dsn without user",
			input:    "redis://:s3cret@cache:6379/0 timeout",
			expected: "redis://[REDACTED_CREDENTIAL]@cache:6379/0 timeout",
		},
		{
			name:     "bearer token",
			input:    "401 Unauthorized: Bearer abcdefghijklmnop",
			expected: "401 Unauthorized: Bearer [REDACTED_TOKEN]",
		},
		{
			name:     "openai key",
			input:    "Incorrect API key provided: sk-proj-abc123def456",
			expected: "Incorrect API key provided: [REDACTED_KEY]",
		},
		{
			name:     "query parameter",
			input:    "GET https://generativelanguage.googleapis.com/v1beta/models?key=xyz98765 failed",
			expected: "GET https://generativelanguage.googleapis.com/v1beta/models?key=[REDACTED_CREDENTIAL] failed",
		},
		{
			name:     "api_key pair",
			input:    "config api_key: 0123456789",
			expected: "config api_key: [REDACTED_CREDENTIAL]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, redact.String(tt.input))
		})
	}
}

func TestError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", redact.Error(nil))

	err := fmt.Errorf("provider call: %w", errors.New("bad key sk-live-0000000000"))
	assert.Equal(t, "provider call: bad key [REDACTED_KEY]", redact.Error(err))
}
