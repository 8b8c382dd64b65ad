package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a task lifecycle transition.
type EventType string

// Lifecycle event types.
const (
	TaskSubmitted  EventType = "task.submitted"
	TaskReused     EventType = "task.reused"
	TaskCacheHit   EventType = "task.cache_hit"
	TaskStarted    EventType = "task.started"
	TaskProgressed EventType = "task.progressed"
	TaskSucceeded  EventType = "task.succeeded"
	TaskFailed     EventType = "task.failed"
	TaskCancelled  EventType = "task.cancelled"
	TaskRetried    EventType = "task.retried"
)

// TaskEvent describes one lifecycle transition of an analysis task.
type TaskEvent struct {
	ID          uuid.UUID `json:"id"`
	Type        EventType `json:"type"`
	TaskID      string    `json:"task_id,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Step        string    `json:"step,omitempty"`
	Progress    int       `json:"progress"`
	ResultID    int64     `json:"result_id,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	// Duration is the wall time of the attempt for terminal events.
	Duration  time.Duration `json:"duration,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewTaskEvent creates an event of the given type for a task.
func NewTaskEvent(eventType EventType, taskID, fingerprint, provider, model string) *TaskEvent {
	return &TaskEvent{
		ID:          uuid.New(),
		Type:        eventType,
		TaskID:      taskID,
		Fingerprint: fingerprint,
		Provider:    provider,
		Model:       model,
		CreatedAt:   time.Now(),
	}
}

// EventHandler reacts to task events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventEmitter publishes task events.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}

// Discard is an emitter that drops every event.
var Discard EventEmitter = discard{}

type discard struct{}

func (discard) EmitEvent(context.Context, *TaskEvent) error { return nil }
