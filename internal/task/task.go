// Package task owns the task list and its on-disk JSON representation.
// Every mutating operation follows the same protocol: lock, load the
// current list from disk, run before-hooks (which may veto), apply the
// mutation, persist atomically, run after-hooks, publish on the bus, and
// return the updated list.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Task is a single to-do entry. ID is a stable UUID assigned on creation;
// list position is not identity and shifts on delete.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Done      bool       `json:"done"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

var (
	// ErrEmptyTitle reports an add or update with a blank title.
	ErrEmptyTitle = errors.New("task title is empty")
	// ErrIndexOutOfRange reports a positional operation outside [0, len).
	ErrIndexOutOfRange = errors.New("task index out of range")
	// ErrNotFound reports an id-based operation on an unknown task.
	ErrNotFound = errors.New("task not found")
)

// CorruptError reports a tasks file whose content could not be parsed or
// validated, after backup recovery (if configured) also failed.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("tasks file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// WriteError reports an I/O failure while persisting the task list.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write tasks file %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
