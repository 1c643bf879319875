// Package web serves the to-do list over HTTP: an HTML page, form
// routes, and a JSON API, all backed by the task store.
package web

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/basket/taskbuddy/internal/shared"
	"github.com/basket/taskbuddy/internal/task"
)

type Config struct {
	Store  *task.Store
	Logger *slog.Logger

	// ConfigFingerprint is the hash of the active config exposed on /metrics.
	ConfigFingerprint string

	// OpCount reports operations recorded since startup. Optional.
	OpCount func() int64
}

type Server struct {
	cfg  Config
	tmpl *template.Template
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:  cfg,
		tmpl: template.Must(template.New("index").Parse(indexHTML)),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/add", s.handleAdd)
	mux.HandleFunc("/toggle/", s.handleToggle)
	mux.HandleFunc("/api/toggle/", s.handleAPIToggle)
	mux.HandleFunc("/delete/", s.handleDelete)
	mux.HandleFunc("/api/tasks", s.handleAPITasks)
	mux.HandleFunc("/api/tasks/", s.handleAPITaskByID)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return s.withRequestLog(mux)
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog attaches a trace_id to the request context and logs one
// line per request.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := shared.NewTraceID()
		ctx := shared.WithTraceID(r.Context(), traceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.cfg.Logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", traceID,
		)
	})
}
