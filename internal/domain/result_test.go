package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysisType(t *testing.T) {
	t.Parallel()

	for _, at := range AnalysisTypes {
		got, err := ParseAnalysisType(string(at))
		require.NoError(t, err)
		assert.Equal(t, at, got)
	}

	_, err := ParseAnalysisType("career")
	require.Error(t, err)
	de, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnsupported, de.Code)
}

func TestResultValidate(t *testing.T) {
	t.Parallel()

	r := &Result{
		Fingerprint: "fp",
		Items: map[AnalysisType]Item{
			AnalysisMarriagePath: {Type: AnalysisMarriagePath},
			AnalysisChallenges:   {Type: AnalysisChallenges},
		},
	}
	assert.ErrorIs(t, r.Validate(), ErrIncompleteResult)

	r.Items[AnalysisPartnerCharacter] = Item{Type: AnalysisPartnerCharacter}
	assert.NoError(t, r.Validate())

	ordered := r.OrderedItems()
	require.Len(t, ordered, 3)
	assert.Equal(t, AnalysisMarriagePath, ordered[0].Type)
	assert.Equal(t, AnalysisPartnerCharacter, ordered[2].Type)
}

func TestSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.23, Seconds(1234*time.Millisecond))
	assert.Equal(t, 0.0, Seconds(0))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Classify(nil))
	assert.Equal(t, CodeInternal, Classify(assert.AnError).Code)

	chart := ChartUnavailableError(assert.AnError)
	assert.Same(t, chart, Classify(chart))
	assert.True(t, chart.Retryable)
	assert.ErrorIs(t, chart, assert.AnError)

	assert.False(t, LLMUnavailableError("bad key", false, nil).Retryable)
	assert.True(t, IsRetryableCode(CodeRateLimited))
	assert.False(t, IsRetryableCode(CodeInternal))
	assert.True(t, IsKind(ConflictError("nope", nil), KindConflict))
}
