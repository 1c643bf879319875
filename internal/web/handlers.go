package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/basket/taskbuddy/internal/hook"
	"github.com/basket/taskbuddy/internal/task"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tasks, err := s.cfg.Store.List(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	done := 0
	for _, t := range tasks {
		if t.Done {
			done++
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, indexData{Tasks: tasks, Total: len(tasks), Open: len(tasks) - done}); err != nil {
		s.cfg.Logger.Error("render index", "error", err)
	}
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.cfg.Store.Add(r.Context(), r.FormValue("task")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	index, err := parseIndex(r.URL.Path, "/toggle/")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.cfg.Store.Toggle(r.Context(), index); err != nil {
		s.writeStoreError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleAPIToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	index, err := parseIndex(r.URL.Path, "/api/toggle/")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tasks, err := s.cfg.Store.Toggle(r.Context(), index)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	index, err := parseIndex(r.URL.Path, "/delete/")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.cfg.Store.Delete(r.Context(), index); err != nil {
		s.writeStoreError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleAPITasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.cfg.Store.List(r.Context())
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	case http.MethodPost:
		var p struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Title == "" {
			http.Error(w, "title is required", http.StatusBadRequest)
			return
		}
		tasks, err := s.cfg.Store.Add(r.Context(), p.Title)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tasks[len(tasks)-1])
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAPITaskByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, err := s.cfg.Store.Get(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case http.MethodPut:
		var p struct {
			Title *string `json:"title"`
			Done  *bool   `json:"done"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if p.Title == nil && p.Done == nil {
			http.Error(w, "no fields to update", http.StatusBadRequest)
			return
		}
		tasks, err := s.cfg.Store.Update(r.Context(), id, task.UpdateParams{Title: p.Title, Done: p.Done})
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		for _, t := range tasks {
			if t.ID == id {
				writeJSON(w, http.StatusOK, t)
				return
			}
		}
		http.Error(w, "task not found after update", http.StatusInternalServerError)
	case http.MethodDelete:
		if _, err := s.cfg.Store.DeleteID(r.Context(), id); err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "task deleted"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	total, done, err := s.cfg.Store.Count(r.Context())
	payload := map[string]any{
		"healthy":    err == nil,
		"store_ok":   err == nil,
		"tasks":      total,
		"done_tasks": done,
	}
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	total, done, err := s.cfg.Store.Count(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	var ops int64
	if s.cfg.OpCount != nil {
		ops = s.cfg.OpCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks_total":      total,
		"tasks_done":       done,
		"tasks_open":       total - done,
		"operations_total": ops,
		"alloc_bytes":      mem.Alloc,
		"config_hash":      s.cfg.ConfigFingerprint,
	})
}

// writeStoreError maps store failures onto HTTP statuses: invalid input
// and hook vetoes are 400, missing tasks 404, everything else 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var rejected *hook.RejectedError
	switch {
	case errors.Is(err, task.ErrEmptyTitle), errors.As(err, &rejected):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, task.ErrIndexOutOfRange), errors.Is(err, task.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.cfg.Logger.Error("store operation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseIndex(path, prefix string) (int, error) {
	raw := strings.TrimPrefix(path, prefix)
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("task index must be an integer")
	}
	return index, nil
}
