package storage

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/termidl/internal/task"
)

// ErrNotFound is returned when a history record does not exist.
var ErrNotFound = errors.New("history record not found")

// HistoryRecord is the journal entry of a task that reached a terminal state.
type HistoryRecord struct {
	SessionID       string
	TaskID          int64
	URL             string
	Backend         string
	DestinationPath string
	DisplayName     string
	Status          string
	Message         string
	CreatedAt       time.Time
	FinishedAt      time.Time
}

// NewHistoryRecord builds the journal entry for t within session sessionID.
func NewHistoryRecord(sessionID string, t task.Task) HistoryRecord {
	finished := t.FinishedAt
	if finished.IsZero() {
		finished = t.UpdatedAt
	}

	return HistoryRecord{
		SessionID:       sessionID,
		TaskID:          t.ID,
		URL:             t.URL,
		Backend:         t.Backend.String(),
		DestinationPath: t.DestinationPath,
		DisplayName:     t.DisplayName,
		Status:          t.Status.String(),
		Message:         t.Message,
		CreatedAt:       t.CreatedAt,
		FinishedAt:      finished,
	}
}

// HistoryReadRepository reads the download journal.
type HistoryReadRepository interface {
	// ListHistory returns the most recently finished records first, up to limit.
	ListHistory(ctx context.Context, limit int) ([]HistoryRecord, error)
	GetRecord(ctx context.Context, sessionID string, taskID int64) (HistoryRecord, error)
}

// HistoryWriteRepository writes the download journal.
type HistoryWriteRepository interface {
	// RecordFinished stores r, replacing an earlier record of the same session and task.
	RecordFinished(ctx context.Context, r HistoryRecord) error
}

// HistoryRepository is the full journal.
type HistoryRepository interface {
	HistoryReadRepository
	HistoryWriteRepository
}
