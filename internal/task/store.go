package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/basket/taskbuddy/internal/bus"
	"github.com/basket/taskbuddy/internal/hook"
	"github.com/google/uuid"
)

// SnapshotSource provides the newest usable snapshot of the tasks file,
// used to recover from a corrupt store. Latest returns os.ErrNotExist
// (possibly wrapped) when no snapshot is available.
type SnapshotSource interface {
	Latest() ([]byte, error)
}

// StoreConfig holds the dependencies for a Store.
type StoreConfig struct {
	// Path is the tasks JSON file.
	Path string
	// Hooks dispatches before/after lifecycle callbacks. Optional.
	Hooks *hook.Registry
	// Bus receives committed-change events. Optional.
	Bus *bus.Bus
	// Snapshots is the corrupt-recovery source. Optional.
	Snapshots SnapshotSource
	Logger    *slog.Logger
}

// Store owns the in-memory task list and the on-disk file exclusively.
// A process-local mutex serializes every load-mutate-save cycle so
// interleaved HTTP requests cannot lose updates.
type Store struct {
	path      string
	hooks     *hook.Registry
	bus       *bus.Bus
	snapshots SnapshotSource
	logger    *slog.Logger

	mu        sync.Mutex
	lastSave  time.Time
	lastSaveM sync.Mutex
}

func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:      cfg.Path,
		hooks:     cfg.Hooks,
		bus:       cfg.Bus,
		snapshots: cfg.Snapshots,
		logger:    logger,
	}
}

// Path returns the tasks file path.
func (s *Store) Path() string { return s.path }

// RecentlySaved reports whether the store wrote the file within the window.
// The file watcher uses it to ignore the store's own writes.
func (s *Store) RecentlySaved(window time.Duration) bool {
	s.lastSaveM.Lock()
	defer s.lastSaveM.Unlock()
	return !s.lastSave.IsZero() && time.Since(s.lastSave) < window
}

func (s *Store) markSaved() {
	s.lastSaveM.Lock()
	s.lastSave = time.Now()
	s.lastSaveM.Unlock()
}

// List returns the current task list, loaded fresh from disk.
func (s *Store) List(ctx context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns the task with the given id.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return Task{}, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Count returns totals for health and metrics endpoints.
func (s *Store) Count(ctx context.Context) (total, done int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.load(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range tasks {
		if t.Done {
			done++
		}
	}
	return len(tasks), done, nil
}

// Add appends a new task with the given title and done=false, persists,
// and returns the updated list. A blank title fails with ErrEmptyTitle;
// a before-hook veto fails with *hook.RejectedError, leaving the file
// untouched in both cases.
func (s *Store) Add(ctx context.Context, title string) ([]Task, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := Task{
		ID:        uuid.NewString(),
		Title:     title,
		Done:      false,
		CreatedAt: &now,
		UpdatedAt: &now,
	}

	payload := &hook.Payload{Task: &hook.TaskData{ID: t.ID, Title: t.Title, Done: t.Done}, Index: -1}
	if err := s.dispatch(ctx, hook.BeforeTaskAdd, payload); err != nil {
		return nil, err
	}
	t.Title = payload.Task.Title
	t.Done = payload.Task.Done

	tasks = append(tasks, t)
	if err := s.save(tasks); err != nil {
		return nil, err
	}

	payload.Index = len(tasks) - 1
	_ = s.dispatch(ctx, hook.AfterTaskAdd, payload)
	s.publish(bus.TopicTaskAdded, t, payload.Index)
	s.logger.Info("task added", "task_id", t.ID, "title", t.Title)
	return cloneTasks(tasks), nil
}

// Toggle flips the done flag of the task at index and returns the updated list.
func (s *Store) Toggle(ctx context.Context, index int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(tasks) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return s.toggleAt(ctx, tasks, index)
}

// ToggleID flips the done flag of the task with the given id.
func (s *Store) ToggleID(ctx context.Context, id string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	index, ok := indexByID(tasks, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.toggleAt(ctx, tasks, index)
}

// toggleAt runs the toggle protocol on an already-loaded list. Caller holds mu.
func (s *Store) toggleAt(ctx context.Context, tasks []Task, index int) ([]Task, error) {
	t := tasks[index]
	payload := &hook.Payload{Task: &hook.TaskData{ID: t.ID, Title: t.Title, Done: t.Done}, Index: index}
	if err := s.dispatch(ctx, hook.BeforeTaskToggle, payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t.Title = payload.Task.Title
	t.Done = !payload.Task.Done
	t.UpdatedAt = &now
	tasks[index] = t

	if err := s.save(tasks); err != nil {
		return nil, err
	}

	payload.Task.Done = t.Done
	_ = s.dispatch(ctx, hook.AfterTaskToggle, payload)
	s.publish(bus.TopicTaskToggled, t, index)
	s.logger.Info("task toggled", "task_id", t.ID, "done", t.Done)
	return cloneTasks(tasks), nil
}

// UpdateParams carries a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Title *string
	Done  *bool
}

// Update applies a partial update to the task with the given id.
func (s *Store) Update(ctx context.Context, id string, params UpdateParams) ([]Task, error) {
	if params.Title != nil && strings.TrimSpace(*params.Title) == "" {
		return nil, ErrEmptyTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	index, ok := indexByID(tasks, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	t := tasks[index]
	data := &hook.TaskData{ID: t.ID, Title: t.Title, Done: t.Done}
	if params.Title != nil {
		data.Title = *params.Title
	}
	if params.Done != nil {
		data.Done = *params.Done
	}
	payload := &hook.Payload{Task: data, Index: index}
	if err := s.dispatch(ctx, hook.BeforeTaskUpdate, payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t.Title = payload.Task.Title
	t.Done = payload.Task.Done
	t.UpdatedAt = &now
	tasks[index] = t

	if err := s.save(tasks); err != nil {
		return nil, err
	}

	_ = s.dispatch(ctx, hook.AfterTaskUpdate, payload)
	s.publish(bus.TopicTaskUpdated, t, index)
	s.logger.Info("task updated", "task_id", t.ID)
	return cloneTasks(tasks), nil
}

// Delete removes the task at index and returns the updated list.
func (s *Store) Delete(ctx context.Context, index int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(tasks) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return s.deleteAt(ctx, tasks, index)
}

// DeleteID removes the task with the given id.
func (s *Store) DeleteID(ctx context.Context, id string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	index, ok := indexByID(tasks, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.deleteAt(ctx, tasks, index)
}

// deleteAt runs the delete protocol on an already-loaded list. Caller holds mu.
func (s *Store) deleteAt(ctx context.Context, tasks []Task, index int) ([]Task, error) {
	t := tasks[index]
	payload := &hook.Payload{Task: &hook.TaskData{ID: t.ID, Title: t.Title, Done: t.Done}, Index: index}
	if err := s.dispatch(ctx, hook.BeforeTaskDelete, payload); err != nil {
		return nil, err
	}

	tasks = append(tasks[:index], tasks[index+1:]...)
	if err := s.save(tasks); err != nil {
		return nil, err
	}

	payload.Index = -1
	_ = s.dispatch(ctx, hook.AfterTaskDelete, payload)
	s.publish(bus.TopicTaskDeleted, t, -1)
	s.logger.Info("task deleted", "task_id", t.ID)
	return cloneTasks(tasks), nil
}

// load reads and normalizes the tasks file. A missing file yields an empty
// list. Legacy records are migrated and the file rewritten, so generated
// ids stay stable across loads. Corrupt content triggers snapshot recovery
// when configured; the recovered list is written back so subsequent loads
// see a healthy file.
func (s *Store) load(ctx context.Context) ([]Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Task{}, nil
		}
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	tasks, migrated, err := decodeTasks(data)
	if err == nil {
		if migrated {
			if err := s.save(tasks); err != nil {
				return nil, err
			}
			s.logger.Info("legacy task records migrated", "path", s.path, "tasks", len(tasks))
		}
		return tasks, nil
	}

	if s.snapshots != nil {
		if recovered, rerr := s.recoverFromSnapshot(ctx, err); rerr == nil {
			return recovered, nil
		}
	}
	return nil, &CorruptError{Path: s.path, Err: err}
}

func (s *Store) recoverFromSnapshot(_ context.Context, cause error) ([]Task, error) {
	data, err := s.snapshots.Latest()
	if err != nil {
		return nil, err
	}
	tasks, _, err := decodeTasks(data)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("tasks file corrupt, recovered from backup",
		"path", s.path,
		"tasks", len(tasks),
		"cause", cause.Error(),
	)
	if err := s.save(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// save writes the full list atomically: marshal, write to a temp file in
// the same directory, then rename over the tasks file.
func (s *Store) save(tasks []Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &WriteError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &WriteError{Path: s.path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return &WriteError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return &WriteError{Path: s.path, Err: err}
	}
	s.markSaved()
	return nil
}

func (s *Store) dispatch(ctx context.Context, event string, p *hook.Payload) error {
	if s.hooks == nil {
		return nil
	}
	return s.hooks.Dispatch(ctx, event, p)
}

func (s *Store) publish(topic string, t Task, index int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, bus.TaskChangedEvent{
		TaskID: t.ID,
		Title:  t.Title,
		Done:   t.Done,
		Index:  index,
	})
}

func indexByID(tasks []Task, id string) (int, bool) {
	for i := range tasks {
		if tasks[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

func cloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

// normalizeRecord converts an on-disk record to a Task, honoring the
// legacy "name" key and filling missing id/done fields. migrated reports
// whether the record needs rewriting to its normalized form.
func normalizeRecord(rec persistedTask) (t Task, migrated bool) {
	t = Task{
		ID:    rec.ID,
		Title: rec.Title,
	}
	if t.Title == "" {
		t.Title = rec.Name
		migrated = true
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
		migrated = true
	}
	if rec.Done != nil {
		t.Done = *rec.Done
	}
	if ts, err := time.Parse(time.RFC3339Nano, rec.CreatedAt); err == nil {
		t.CreatedAt = &ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt); err == nil {
		t.UpdatedAt = &ts
	}
	return t, migrated
}
