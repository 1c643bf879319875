package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/taskbuddy/internal/bus"
	"github.com/basket/taskbuddy/internal/hook"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(StoreConfig{
		Path: filepath.Join(t.TempDir(), "tasks.json"),
	})
}

func TestAddAppendsNewOpenTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tasks, err := s.Add(ctx, "buy milk")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Title != "buy milk" || tasks[0].Done {
		t.Fatalf("unexpected task: %+v", tasks[0])
	}
	if tasks[0].ID == "" {
		t.Fatal("expected a generated id")
	}

	tasks, err = s.Add(ctx, "walk dog")
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
}

func TestAddEmptyTitle(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Add(context.Background(), "   "); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatal("rejected add must not create the tasks file")
	}
}

func TestToggleTwiceRestoresOriginal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "buy milk"); err != nil {
		t.Fatalf("add: %v", err)
	}

	tasks, err := s.Toggle(ctx, 0)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !tasks[0].Done {
		t.Fatal("expected done=true after first toggle")
	}

	tasks, err = s.Toggle(ctx, 0)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if tasks[0].Done {
		t.Fatal("expected done=false after second toggle")
	}
}

func TestDeleteRemovesAddressedTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		if _, err := s.Add(ctx, title); err != nil {
			t.Fatalf("add %q: %v", title, err)
		}
	}

	tasks, err := s.Delete(ctx, 1)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Title != "one" || tasks[1].Title != "three" {
		t.Fatalf("wrong survivors: %q, %q", tasks[0].Title, tasks[1].Title)
	}
}

func TestIndexOutOfRangeLeavesStoreUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "one"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Add(ctx, "two"); err != nil {
		t.Fatalf("add: %v", err)
	}
	before, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}

	if _, err := s.Toggle(ctx, 5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := s.Delete(ctx, -1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}

	after, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("failed operation must leave the store byte-identical")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, "persisted"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Toggle(ctx, 0); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	// A fresh store on the same path must see the same state.
	s2 := NewStore(StoreConfig{Path: s.Path()})
	tasks, err := s2.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "persisted" || !tasks[0].Done {
		t.Fatalf("round trip mismatch: %+v", tasks)
	}
}

func TestRejectingBeforeHookLeavesFileUntouched(t *testing.T) {
	reg := hook.NewRegistry(nil)
	reg.Register(hook.BeforeTaskAdd, func(_ context.Context, p *hook.Payload) error {
		if p.Task.Title == "forbidden" {
			return errors.New("title is forbidden")
		}
		return nil
	})
	s := NewStore(StoreConfig{
		Path:  filepath.Join(t.TempDir(), "tasks.json"),
		Hooks: reg,
	})
	ctx := context.Background()

	if _, err := s.Add(ctx, "allowed"); err != nil {
		t.Fatalf("add: %v", err)
	}
	before, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}

	_, err = s.Add(ctx, "forbidden")
	var rejected *hook.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Event != hook.BeforeTaskAdd {
		t.Fatalf("wrong event on rejection: %s", rejected.Event)
	}

	after, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("vetoed add must leave the store byte-identical")
	}
}

func TestAfterHookFailureDoesNotPropagate(t *testing.T) {
	reg := hook.NewRegistry(nil)
	reg.Register(hook.AfterTaskAdd, func(context.Context, *hook.Payload) error {
		return errors.New("observer broke")
	})
	s := NewStore(StoreConfig{
		Path:  filepath.Join(t.TempDir(), "tasks.json"),
		Hooks: reg,
	})

	tasks, err := s.Add(context.Background(), "committed")
	if err != nil {
		t.Fatalf("after-hook failure must not fail the operation: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected the mutation to stick, got %d tasks", len(tasks))
	}
}

func TestBeforeHookCanRewriteTitle(t *testing.T) {
	reg := hook.NewRegistry(nil)
	reg.Register(hook.BeforeTaskAdd, hook.ValidateTitle)
	s := NewStore(StoreConfig{
		Path:  filepath.Join(t.TempDir(), "tasks.json"),
		Hooks: reg,
	})

	tasks, err := s.Add(context.Background(), "  trim me  ")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if tasks[0].Title != "trim me" {
		t.Fatalf("expected normalized title, got %q", tasks[0].Title)
	}
}

func TestToggleAndDeleteByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tasks, err := s.Add(ctx, "by id")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	id := tasks[0].ID

	tasks, err = s.ToggleID(ctx, id)
	if err != nil {
		t.Fatalf("toggle by id: %v", err)
	}
	if !tasks[0].Done {
		t.Fatal("expected done=true")
	}

	if _, err := s.ToggleID(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	tasks, err = s.DeleteID(ctx, id)
	if err != nil {
		t.Fatalf("delete by id: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty list, got %d", len(tasks))
	}
}

func TestUpdatePartialFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tasks, err := s.Add(ctx, "original")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	id := tasks[0].ID

	title := "renamed"
	tasks, err = s.Update(ctx, id, UpdateParams{Title: &title})
	if err != nil {
		t.Fatalf("update title: %v", err)
	}
	if tasks[0].Title != "renamed" || tasks[0].Done {
		t.Fatalf("unexpected task after title update: %+v", tasks[0])
	}

	done := true
	tasks, err = s.Update(ctx, id, UpdateParams{Done: &done})
	if err != nil {
		t.Fatalf("update done: %v", err)
	}
	if tasks[0].Title != "renamed" || !tasks[0].Done {
		t.Fatalf("unexpected task after done update: %+v", tasks[0])
	}

	empty := " "
	if _, err := s.Update(ctx, id, UpdateParams{Title: &empty}); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
}

func TestLoadMissingFileReturnsEmptyList(t *testing.T) {
	s := newTestStore(t)
	tasks, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty list, got %d", len(tasks))
	}
}

func TestLoadNormalizesLegacyRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	legacy := `[{"name": "old style", "done": true}, {"title": "no done flag"}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := NewStore(StoreConfig{Path: path})
	tasks, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Title != "old style" || !tasks[0].Done {
		t.Fatalf("legacy name record not normalized: %+v", tasks[0])
	}
	if tasks[1].Title != "no done flag" || tasks[1].Done {
		t.Fatalf("missing done not defaulted: %+v", tasks[1])
	}
	if tasks[0].ID == "" || tasks[1].ID == "" {
		t.Fatal("expected generated ids for legacy records")
	}
}

func TestLegacyFileGetsStableIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	legacy := `[{"name": "x", "done": true}, {"title": "y"}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := NewStore(StoreConfig{Path: path})
	ctx := context.Background()

	first, err := s.List(ctx)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := s.List(ctx)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("id at %d changed between loads: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}

	// An id just returned by List must stay addressable.
	got, err := s.Get(ctx, first[0].ID)
	if err != nil {
		t.Fatalf("get by listed id: %v", err)
	}
	if got.Title != "x" || !got.Done {
		t.Fatalf("unexpected task: %+v", got)
	}

	// The migration rewrote the file in the current shape.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if strings.Contains(string(data), `"name"`) {
		t.Fatal("legacy name key survived migration")
	}
	if !strings.Contains(string(data), first[0].ID) {
		t.Fatal("generated id not persisted")
	}
}

func TestLoadCorruptFileWithoutSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := NewStore(StoreConfig{Path: path})
	_, err := s.List(context.Background())
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
}

type fakeSnapshots struct {
	data []byte
	err  error
}

func (f *fakeSnapshots) Latest() ([]byte, error) {
	return f.data, f.err
}

func TestLoadCorruptFileRecoversFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte("][garbage"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := NewStore(StoreConfig{
		Path:      path,
		Snapshots: &fakeSnapshots{data: []byte(`[{"title": "rescued", "done": false}]`)},
	})
	tasks, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list after recovery: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "rescued" {
		t.Fatalf("unexpected recovered tasks: %+v", tasks)
	}

	// The recovered list must have been written back.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if _, _, err := decodeTasks(data); err != nil {
		t.Fatalf("rewritten file not valid: %v", err)
	}
}

func TestSchemaRejectsMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	// done as string violates the schema.
	if err := os.WriteFile(path, []byte(`[{"title": "x", "done": "yes"}]`), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	s := NewStore(StoreConfig{Path: path})
	var corrupt *CorruptError
	if _, err := s.List(context.Background()); !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptError for schema violation, got %v", err)
	}
}

func TestMutationsPublishBusEvents(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("task.")
	s := NewStore(StoreConfig{
		Path: filepath.Join(t.TempDir(), "tasks.json"),
		Bus:  b,
	})
	ctx := context.Background()

	if _, err := s.Add(ctx, "watched"); err != nil {
		t.Fatalf("add: %v", err)
	}
	ev := <-sub.Ch()
	if ev.Topic != bus.TopicTaskAdded {
		t.Fatalf("expected %s, got %s", bus.TopicTaskAdded, ev.Topic)
	}
	payload, ok := ev.Payload.(bus.TaskChangedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", ev.Payload)
	}
	if payload.Title != "watched" || payload.Done {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	if _, err := s.Delete(ctx, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ev = <-sub.Ch()
	if ev.Topic != bus.TopicTaskDeleted {
		t.Fatalf("expected %s, got %s", bus.TopicTaskDeleted, ev.Topic)
	}
}
