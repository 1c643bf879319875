package task

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/basket/taskbuddy/internal/bus"
	"github.com/fsnotify/fsnotify"
)

// selfWriteWindow is how long after a store save the watcher treats file
// events as the store's own rename, not an external edit.
const selfWriteWindow = 2 * time.Second

// Watcher reports external modifications to the tasks file on the bus.
// It watches the parent directory because the store replaces the file by
// rename, which would invalidate a direct file watch.
type Watcher struct {
	store  *Store
	bus    *bus.Bus
	logger *slog.Logger
}

func NewWatcher(store *Store, b *bus.Bus, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{store: store, bus: b, logger: logger}
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.store.Path())); err != nil {
		_ = fsw.Close()
		return err
	}
	base := filepath.Base(w.store.Path())

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if w.store.RecentlySaved(selfWriteWindow) {
					continue
				}
				w.logger.Info("tasks file changed externally", "path", ev.Name, "op", ev.Op.String())
				if w.bus != nil {
					w.bus.Publish(bus.TopicTaskFileChanged, bus.FileChangedEvent{
						Path: ev.Name,
						Op:   ev.Op.String(),
					})
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("tasks file watcher error", "error", err)
			}
		}
	}()
	return nil
}
