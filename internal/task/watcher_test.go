package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/taskbuddy/internal/bus"
)

func TestWatcherReportsExternalEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	b := bus.New()
	sub := b.Subscribe(bus.TopicTaskFileChanged)
	defer b.Unsubscribe(sub)

	store := NewStore(StoreConfig{Path: path, Bus: b})
	w := NewWatcher(store, b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// An edit the store did not make.
	if err := os.WriteFile(path, []byte(`[{"title": "edited by hand", "done": false}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-sub.Ch():
		if ev.Topic != bus.TopicTaskFileChanged {
			t.Fatalf("wrong topic: %s", ev.Topic)
		}
		payload, ok := ev.Payload.(bus.FileChangedEvent)
		if !ok {
			t.Fatalf("wrong payload type: %T", ev.Payload)
		}
		if filepath.Base(payload.Path) != "tasks.json" {
			t.Fatalf("wrong path: %s", payload.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for file change event")
	}
}

func TestWatcherIgnoresOwnSaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	b := bus.New()
	sub := b.Subscribe(bus.TopicTaskFileChanged)
	defer b.Unsubscribe(sub)

	store := NewStore(StoreConfig{Path: path, Bus: b})
	w := NewWatcher(store, b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := store.Add(context.Background(), "written by the store"); err != nil {
		t.Fatalf("add: %v", err)
	}

	select {
	case ev := <-sub.Ch():
		t.Fatalf("store's own save must not be reported, got %s", ev.Topic)
	case <-time.After(300 * time.Millisecond):
	}
}
