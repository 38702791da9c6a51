package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/termidl/internal/storage"
)

const defaultHistoryLimit = 50

type HistoryResponse struct {
	SessionID       string    `json:"session_id"`
	TaskID          int64     `json:"task_id"`
	URL             string    `json:"url"`
	Backend         string    `json:"backend"`
	DestinationPath string    `json:"destination_path"`
	DisplayName     string    `json:"display_name"`
	Status          string    `json:"status"`
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"created_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Took            string    `json:"took"`
}

// HistoryHandler serves the journal of finished downloads.
type HistoryHandler struct {
	repo storage.HistoryReadRepository
}

func NewHistoryHandler(repo storage.HistoryReadRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

func (h *HistoryHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.HandleList)
	r.Get("/{session}/{id}", h.HandleGet)

	return r
}

func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))

			return
		}

		limit = n
	}

	records, err := h.repo.ListHistory(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err)

		return
	}

	resp := make([]HistoryResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, newHistoryResponse(rec))
	}

	writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *HistoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rec, err := h.repo.GetRecord(r.Context(), chi.URLParam(r, "session"), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, err)
		} else {
			writeError(r.Context(), w, http.StatusInternalServerError, err)
		}

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, newHistoryResponse(rec))
}

func newHistoryResponse(rec storage.HistoryRecord) HistoryResponse {
	return HistoryResponse{
		SessionID:       rec.SessionID,
		TaskID:          rec.TaskID,
		URL:             rec.URL,
		Backend:         rec.Backend,
		DestinationPath: rec.DestinationPath,
		DisplayName:     rec.DisplayName,
		Status:          rec.Status,
		Message:         rec.Message,
		CreatedAt:       rec.CreatedAt,
		FinishedAt:      rec.FinishedAt,
		Took:            humanize.RelTime(rec.CreatedAt, rec.FinishedAt, "", ""),
	}
}
