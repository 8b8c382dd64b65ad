package domain

import (
	"fmt"
	"math"
	"time"
)

// AnalysisType names one of the fixed sub-analyses run for every task.
type AnalysisType string

// Analysis types, in presentation order.
const (
	AnalysisMarriagePath     AnalysisType = "marriage_path"
	AnalysisChallenges       AnalysisType = "challenges"
	AnalysisPartnerCharacter AnalysisType = "partner_character"
)

// AnalysisTypes lists every analysis type in presentation order.
var AnalysisTypes = []AnalysisType{
	AnalysisMarriagePath,
	AnalysisChallenges,
	AnalysisPartnerCharacter,
}

var analysisTitles = map[AnalysisType]string{
	AnalysisMarriagePath:     "婚姻道路分析",
	AnalysisChallenges:       "困难挑战分析",
	AnalysisPartnerCharacter: "伴侣性格分析",
}

// ParseAnalysisType validates a raw analysis type name.
func ParseAnalysisType(raw string) (AnalysisType, error) {
	t := AnalysisType(raw)
	if _, ok := analysisTitles[t]; !ok {
		return "", ValidationError(CodeUnsupported, fmt.Sprintf("unsupported analysis type: %s", raw), nil)
	}
	return t, nil
}

// Title returns the report heading for the analysis type.
func (t AnalysisType) Title() string {
	if title, ok := analysisTitles[t]; ok {
		return title
	}
	return string(t)
}

// Item is the output of one sub-analysis.
type Item struct {
	Type          AnalysisType `json:"analysis_type"`
	Content       string       `json:"content"`
	ExecutionTime float64      `json:"execution_time"`
	InputTokens   int          `json:"input_tokens"`
	OutputTokens  int          `json:"output_tokens"`
	TokenCount    int          `json:"token_count"`
}

// Result is a completed analysis. At most one exists per fingerprint and it
// never changes once persisted.
type Result struct {
	ID                 int64
	Fingerprint        string
	Request            RequestSnapshot
	Provider           string
	Model              string
	PromptVersion      string
	Description        string
	Items              map[AnalysisType]Item
	TotalExecutionTime float64
	TotalTokenCount    int
	CreatedAt          time.Time
}

// ResultSummary is the history listing projection of a Result.
type ResultSummary struct {
	ID                 int64           `json:"id"`
	Request            RequestSnapshot `json:"birth_info"`
	Provider           string          `json:"provider"`
	Model              string          `json:"model"`
	PromptVersion      string          `json:"prompt_version"`
	TotalExecutionTime float64         `json:"total_execution_time"`
	TotalTokenCount    int             `json:"total_token_count"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Validate checks that the result is complete.
func (r *Result) Validate() error {
	if r.Fingerprint == "" {
		return fmt.Errorf("%w: fingerprint cannot be empty", ErrValidation)
	}
	for _, t := range AnalysisTypes {
		if _, ok := r.Items[t]; !ok {
			return fmt.Errorf("%w: %s", ErrIncompleteResult, t)
		}
	}
	return nil
}

// OrderedItems returns the items in presentation order.
func (r *Result) OrderedItems() []Item {
	items := make([]Item, 0, len(r.Items))
	for _, t := range AnalysisTypes {
		if item, ok := r.Items[t]; ok {
			items = append(items, item)
		}
	}
	return items
}

// Summary projects the result for history listings.
func (r *Result) Summary() ResultSummary {
	return ResultSummary{
		ID:                 r.ID,
		Request:            r.Request,
		Provider:           r.Provider,
		Model:              r.Model,
		PromptVersion:      r.PromptVersion,
		TotalExecutionTime: r.TotalExecutionTime,
		TotalTokenCount:    r.TotalTokenCount,
		CreatedAt:          r.CreatedAt,
	}
}

// Seconds converts a latency to seconds rounded to two decimals.
func Seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
