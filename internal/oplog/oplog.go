// Package oplog records committed task operations to a JSONL file and,
// when configured, mirrors them into a SQLite table for querying.
package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/taskbuddy/internal/hook"
	"github.com/basket/taskbuddy/internal/shared"
	_ "github.com/mattn/go-sqlite3"
)

// Operation labels written to the log.
const (
	OpAdded   = "TASK_ADDED"
	OpToggled = "TASK_TOGGLED"
	OpUpdated = "TASK_UPDATED"
	OpDeleted = "TASK_DELETED"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Done      bool   `json:"done"`
}

// Recorder appends task operation records. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	db      *sql.DB
	written atomic.Int64
}

// Open creates the operations log under homeDir/logs. If sqlitePath is
// non-empty the records are also inserted into a task_operations table.
func Open(homeDir, sqlitePath string) (*Recorder, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "task_operations.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open operations log: %w", err)
	}

	r := &Recorder{file: f}
	if sqlitePath != "" {
		db, err := sql.Open("sqlite3", sqlitePath)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open operations db: %w", err)
		}
		if _, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS task_operations (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				operation TEXT NOT NULL,
				task_id   TEXT NOT NULL,
				title     TEXT NOT NULL,
				done      INTEGER NOT NULL
			);
		`); err != nil {
			_ = db.Close()
			_ = f.Close()
			return nil, fmt.Errorf("create task_operations table: %w", err)
		}
		r.db = db
	}
	return r, nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	if r.file != nil {
		firstErr = r.file.Close()
		r.file = nil
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.db = nil
	}
	return firstErr
}

// Count returns the number of records written since startup.
func (r *Recorder) Count() int64 {
	return r.written.Load()
}

// Record appends one operation record. Titles pass through secret redaction
// before persistence.
func (r *Recorder) Record(operation string, t hook.TaskData) error {
	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: operation,
		TaskID:    t.ID,
		Title:     shared.Redact(t.Title),
		Done:      t.Done,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal operation record: %w", err)
		}
		if _, err := r.file.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("write operation record: %w", err)
		}
	}
	if r.db != nil {
		if _, err := r.db.ExecContext(context.Background(), `
			INSERT INTO task_operations (timestamp, operation, task_id, title, done)
			VALUES (?, ?, ?, ?, ?);
		`, ev.Timestamp, ev.Operation, ev.TaskID, ev.Title, boolToInt(ev.Done)); err != nil {
			return fmt.Errorf("insert operation record: %w", err)
		}
	}
	r.written.Add(1)
	return nil
}

// Handler adapts the recorder into an after-hook for the given operation.
func (r *Recorder) Handler(operation string) hook.Handler {
	return func(_ context.Context, p *hook.Payload) error {
		return r.Record(operation, *p.Task)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
