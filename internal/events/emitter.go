package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter fans task events out to its handlers in registration
// order, on the caller's goroutine.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	log      *slog.Logger
}

// NewInMemoryEventEmitter returns an emitter. Handlers may also be added
// later with RegisterHandler.
func NewInMemoryEventEmitter(logger *slog.Logger, handlers ...EventHandler) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		handlers: handlers,
		log:      logger.With(slog.String("component", "task_events")),
	}
}

func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	e.mu.Unlock()
}

func (e *InMemoryEventEmitter) snapshot() []EventHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]EventHandler(nil), e.handlers...)
}

// EmitEvent delivers event to every handler. A failing handler is logged and
// does not stop delivery; the first failure is returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskEvent) error {
	var first error
	for i, h := range e.snapshot() {
		err := h.HandleEvent(ctx, event)
		if err == nil {
			continue
		}
		e.log.LogAttrs(ctx, slog.LevelError, "event handler failed",
			slog.Int("handler", i),
			slog.String("event_type", string(event.Type)),
			slog.String("task_id", event.TaskID),
			slog.String("error", err.Error()))
		if first == nil {
			first = err
		}
	}
	return first
}
