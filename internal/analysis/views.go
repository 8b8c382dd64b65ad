package analysis

import (
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
)

// SubmissionResult is the outcome of Submit. A cache hit carries ResultID;
// otherwise TaskID names the queued or reused task.
type SubmissionResult struct {
	HitCache    bool              `json:"hit_cache"`
	ResultID    *int64            `json:"result_id,omitempty"`
	TaskID      string            `json:"task_id,omitempty"`
	Status      domain.TaskStatus `json:"status,omitempty"`
	PollAfterMs int               `json:"poll_after_ms,omitempty"`
	ReusedTask  bool              `json:"reused_task"`
}

// CacheLookupResult is the outcome of CheckCache. CachedResults maps each
// analysis type to a short text block and is nil on a miss.
type CacheLookupResult struct {
	Hit           bool              `json:"hit"`
	ResultID      *int64            `json:"result_id"`
	CachedResults map[string]string `json:"cached_results"`
}

// TaskError is the failure recorded on a task.
type TaskError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// TaskView is a task as shown to callers polling for progress.
type TaskView struct {
	TaskID     string            `json:"task_id"`
	Status     domain.TaskStatus `json:"status"`
	Progress   int               `json:"progress"`
	Step       string            `json:"step"`
	ResultID   *int64            `json:"result_id"`
	Error      *TaskError        `json:"error"`
	RetryCount int               `json:"retry_count"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func newTaskView(t *domain.Task) *TaskView {
	v := &TaskView{
		TaskID:     t.ID,
		Status:     t.Status,
		Progress:   t.Progress,
		Step:       t.Step,
		ResultID:   t.ResultID,
		RetryCount: t.RetryCount,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
	if t.ErrorCode != "" {
		v.Error = &TaskError{
			Code:      t.ErrorCode,
			Message:   t.ErrorMessage,
			Retryable: t.ErrorRetryable,
		}
	}
	return v
}

// ResultView is a complete result with items in presentation order.
type ResultView struct {
	ID                  int64                  `json:"id"`
	Fingerprint         string                 `json:"fingerprint"`
	Request             domain.RequestSnapshot `json:"birth_info"`
	Provider            string                 `json:"provider"`
	Model               string                 `json:"model"`
	PromptVersion       string                 `json:"prompt_version"`
	RenderedDescription string                 `json:"text_description"`
	Items               []domain.Item          `json:"items"`
	TotalExecutionTime  float64                `json:"total_execution_time"`
	TotalTokenCount     int                    `json:"total_token_count"`
	CreatedAt           time.Time              `json:"created_at"`
}

func newResultView(r *domain.Result) *ResultView {
	return &ResultView{
		ID:                  r.ID,
		Fingerprint:         r.Fingerprint,
		Request:             r.Request,
		Provider:            r.Provider,
		Model:               r.Model,
		PromptVersion:       r.PromptVersion,
		RenderedDescription: r.Description,
		Items:               r.OrderedItems(),
		TotalExecutionTime:  r.TotalExecutionTime,
		TotalTokenCount:     r.TotalTokenCount,
		CreatedAt:           r.CreatedAt,
	}
}

// ResultItemView is one analysis item with the backend that produced it.
type ResultItemView struct {
	ResultID int64 `json:"result_id"`
	domain.Item
}

// HistoryPage is one page of results, newest first.
type HistoryPage struct {
	Items    []domain.ResultSummary `json:"items"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
	Total    int                    `json:"total"`
	HasNext  bool                   `json:"has_next"`
}

// MarkdownExport is a rendered report ready to be written to a file.
type MarkdownExport struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}
