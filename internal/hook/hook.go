// Package hook dispatches registered callbacks around task lifecycle
// mutations. Before-hooks run ahead of the mutation and may veto it;
// after-hooks run once the mutation is persisted and can only observe.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Lifecycle event names. Each mutating store operation has a before/after pair.
const (
	BeforeTaskAdd    = "before_task_add"
	AfterTaskAdd     = "after_task_add"
	BeforeTaskToggle = "before_task_toggle"
	AfterTaskToggle  = "after_task_toggle"
	BeforeTaskUpdate = "before_task_update"
	AfterTaskUpdate  = "after_task_update"
	BeforeTaskDelete = "before_task_delete"
	AfterTaskDelete  = "after_task_delete"
)

// TaskData is the handler's view of the task under mutation. Before-handlers
// may rewrite Title and Done; the store applies the rewritten values.
type TaskData struct {
	ID    string
	Title string
	Done  bool
}

// Payload carries the operation context handed to each handler.
type Payload struct {
	Task *TaskData
	// Index is the task's list position, or -1 for add (not yet appended).
	Index int
}

// Handler is a single registered callback. A non-nil error from a
// before-handler vetoes the pending mutation.
type Handler func(ctx context.Context, p *Payload) error

// RejectedError reports that a before-hook vetoed a mutation.
type RejectedError struct {
	Event string
	Err   error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("hook rejected %s: %v", e.Event, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Registry maps event names to ordered handler lists.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Register appends a handler for the given event. Handlers run in
// registration order.
func (r *Registry) Register(event string, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], h)
}

// HandlerCount returns the number of handlers registered for an event.
func (r *Registry) HandlerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Dispatch invokes every handler registered for the event, in order.
//
// For before_* events the first handler error aborts the chain and is
// returned wrapped in *RejectedError: the store must leave its file
// untouched. For after_* events handler errors are logged and swallowed,
// since the mutation is already committed and cannot be undone.
func (r *Registry) Dispatch(ctx context.Context, event string, p *Payload) error {
	r.mu.RLock()
	chain := r.handlers[event]
	r.mu.RUnlock()

	before := strings.HasPrefix(event, "before_")
	for _, h := range chain {
		if err := h(ctx, p); err != nil {
			if before {
				return &RejectedError{Event: event, Err: err}
			}
			taskID := ""
			if p != nil && p.Task != nil {
				taskID = p.Task.ID
			}
			r.logger.Warn("after-hook failed",
				"event", event,
				"task_id", taskID,
				"error", err,
			)
		}
	}
	return nil
}
