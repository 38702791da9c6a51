package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/termidl/internal/storage"
	"github.com/italolelis/termidl/internal/telemetry"
)

// NewRouter mounts the task API and the metrics endpoint behind the request id,
// logging and metrics middleware. The history routes are only mounted when
// history is not nil.
func NewRouter(tasks TaskService, defaultPath string, history storage.HistoryReadRepository, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/tasks", NewTasksHandler(tasks, defaultPath).Routes())

	if history != nil {
		r.Mount("/history", NewHistoryHandler(history).Routes())
	}

	r.Method(http.MethodGet, "/metrics", tel.Handler())

	return r
}
