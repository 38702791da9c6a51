package rest

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/termidl/internal/logctx"
	"github.com/italolelis/termidl/internal/supervisor"
	"github.com/italolelis/termidl/internal/task"
	"github.com/zeebo/bencode"
)

const maxTorrentSize = 10 * 1024 * 1024

// maxAddBody fits a base64 encoded torrent of maxTorrentSize plus the other fields.
const maxAddBody = maxTorrentSize/3*4 + 64*1024

// TaskService is the part of the supervisor the API talks to.
type TaskService interface {
	AddTask(ctx context.Context, url, destinationPath string, backend task.Backend) (int64, error)
	CancelTask(id int64) error
	Snapshot() []task.Task
	Task(id int64) (task.Task, bool)
}

// TaskResponse is a task as served by the API.
type TaskResponse struct {
	task.Task
	Age string `json:"age"`
}

// AddTaskRequest starts a download. Metainfo, when set, holds a base64 encoded
// .torrent file that is stored under Path and downloaded with aria2.
type AddTaskRequest struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Backend  string `json:"backend"`
	Metainfo string `json:"metainfo,omitempty"`
}

type AddTaskResponse struct {
	ID int64 `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// TasksHandler serves the task status API.
type TasksHandler struct {
	tasks       TaskService
	defaultPath string
}

// NewTasksHandler creates a handler. defaultPath is used when a request has no path.
func NewTasksHandler(tasks TaskService, defaultPath string) *TasksHandler {
	return &TasksHandler{tasks: tasks, defaultPath: defaultPath}
}

// Routes returns the task routes.
func (h *TasksHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.HandleList)
	r.Post("/", h.HandleAdd)
	r.Get("/{id}", h.HandleGet)
	r.Delete("/{id}", h.HandleCancel)

	return r
}

func (h *TasksHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tasks.Snapshot()

	resp := make([]TaskResponse, 0, len(snapshot))
	for _, t := range snapshot {
		resp = append(resp, newTaskResponse(t))
	}

	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *TasksHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	t, found := h.tasks.Task(id)
	if !found {
		writeError(r.Context(), w, http.StatusNotFound, &supervisor.UnknownTaskError{ID: id})

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, newTaskResponse(t))
}

func (h *TasksHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxAddBody)

	var req AddTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(ctx, w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))

			return
		}

		logger.Error("failed to decode request", "err", err)
		writeError(ctx, w, http.StatusBadRequest, errors.New("invalid request body"))

		return
	}

	if req.Path == "" {
		req.Path = h.defaultPath
	}

	if req.Backend == "" {
		req.Backend = task.BackendAria2.String()
	}

	backend, err := task.ParseBackend(req.Backend)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err)

		return
	}

	url := req.URL

	if req.Metainfo != "" {
		if backend != task.BackendAria2 {
			writeError(ctx, w, http.StatusBadRequest, errors.New("metainfo requires the aria2 backend"))

			return
		}

		url, err = storeTorrent(ctx, req.Path, req.Metainfo)
		if err != nil {
			var invalid *InvalidTorrentError
			if errors.As(err, &invalid) {
				writeError(ctx, w, http.StatusBadRequest, err)
			} else {
				writeError(ctx, w, http.StatusInternalServerError, err)
			}

			return
		}
	}

	id, err := h.tasks.AddTask(ctx, url, req.Path, backend)
	if err != nil {
		if errors.Is(err, supervisor.ErrInvalidRequest) {
			writeError(ctx, w, http.StatusBadRequest, err)
		} else {
			writeError(ctx, w, http.StatusInternalServerError, err)
		}

		return
	}

	logger.Info("task added via api", "task_id", id, "backend", backend.String())

	writeJSON(ctx, w, http.StatusCreated, AddTaskResponse{ID: id})
}

func (h *TasksHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.tasks.CancelTask(id); err != nil {
		if errors.Is(err, supervisor.ErrUnknownTask) {
			writeError(r.Context(), w, http.StatusNotFound, err)
		} else {
			writeError(r.Context(), w, http.StatusInternalServerError, err)
		}

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// InvalidTorrentError is returned for uploaded metainfo that is not a usable torrent.
type InvalidTorrentError struct {
	Reason string
	Err    error
}

func (e *InvalidTorrentError) Error() string {
	return "invalid torrent: " + e.Reason
}

func (e *InvalidTorrentError) Unwrap() error {
	return e.Err
}

// storeTorrent validates base64 metainfo and writes it into dir. It returns the
// path of the written .torrent file.
func storeTorrent(ctx context.Context, dir, metainfo string) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	data, err := base64.StdEncoding.DecodeString(metainfo)
	if err != nil {
		return "", &InvalidTorrentError{Reason: fmt.Sprintf("invalid base64 encoding: %v", err), Err: err}
	}

	// Check size before decoding the bencode structure.
	if len(data) > maxTorrentSize {
		return "", &InvalidTorrentError{
			Reason: fmt.Sprintf("size %d bytes exceeds maximum %d bytes", len(data), maxTorrentSize),
		}
	}

	if err := validateBencodeStructure(data); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create destination: %w", err)
	}

	path := filepath.Join(dir, torrentFilename(data))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write torrent file: %w", err)
	}

	logger.Debug("stored torrent", "path", path, "size", humanize.IBytes(uint64(len(data))))

	return path, nil
}

func validateBencodeStructure(data []byte) error {
	var decoded any
	if err := bencode.DecodeBytes(data, &decoded); err != nil {
		return &InvalidTorrentError{Reason: fmt.Sprintf("invalid bencode structure: %v", err), Err: err}
	}

	dict, ok := decoded.(map[string]any)
	if !ok {
		return &InvalidTorrentError{Reason: "bencode root must be a dictionary"}
	}

	if _, ok := dict["info"]; !ok {
		return &InvalidTorrentError{Reason: "bencode missing required 'info' dictionary"}
	}

	return nil
}

func torrentFilename(data []byte) string {
	hash := sha1.Sum(data)

	return hex.EncodeToString(hash[:])[:16] + ".torrent"
}

func newTaskResponse(t task.Task) TaskResponse {
	return TaskResponse{Task: t, Age: humanize.Time(t.CreatedAt)}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, fmt.Errorf("invalid task id %q", chi.URLParam(r, "id")))

		return 0, false
	}

	return id, true
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		logctx.LoggerFromContext(ctx).Error("request failed", "err", err)
	}

	writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
