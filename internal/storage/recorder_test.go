package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/termidl/internal/task"
)

type memoryHistory struct {
	mu      sync.Mutex
	records []HistoryRecord
	fail    bool
}

func (m *memoryHistory) RecordFinished(_ context.Context, r HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return errors.New("disk full")
	}

	m.records = append(m.records, r)

	return nil
}

func TestRecordHistory_OnlyTerminalEvents(t *testing.T) {
	events := make(chan task.Event, 8)
	repo := &memoryHistory{}

	now := time.Now()
	events <- task.Event{Kind: task.EventAdded, Task: task.Task{ID: 1, Status: task.StatusStarting}}
	events <- task.Event{Kind: task.EventProgress, Task: task.Task{ID: 1, Status: task.StatusDownloading, Progress: 40}}
	events <- task.Event{Kind: task.EventStatus, Task: task.Task{
		ID:          1,
		URL:         "https://youtu.be/x",
		Backend:     task.BackendYtdlp,
		DisplayName: "clip.mp4",
		Status:      task.StatusCompleted,
		Message:     "Download completed!",
		UpdatedAt:   now,
		FinishedAt:  now,
	}}
	close(events)

	RecordHistory(context.Background(), "session-a", events, repo)

	require.Len(t, repo.records, 1)

	rec := repo.records[0]
	assert.Equal(t, "session-a", rec.SessionID)
	assert.Equal(t, int64(1), rec.TaskID)
	assert.Equal(t, "ytdlp", rec.Backend)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "clip.mp4", rec.DisplayName)
	assert.Equal(t, now, rec.FinishedAt)
}

func TestRecordHistory_ContinuesAfterWriteFailure(t *testing.T) {
	events := make(chan task.Event, 2)
	repo := &memoryHistory{fail: true}

	events <- task.Event{Task: task.Task{ID: 1, Status: task.StatusError}}
	events <- task.Event{Task: task.Task{ID: 2, Status: task.StatusCancelled}}
	close(events)

	assert.NotPanics(t, func() {
		RecordHistory(context.Background(), "s", events, repo)
	})
	assert.Empty(t, repo.records)
}

func TestRecordHistory_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		RecordHistory(ctx, "s", make(chan task.Event), &memoryHistory{})
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
}

func TestNewHistoryRecord_FallsBackToUpdatedAt(t *testing.T) {
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := NewHistoryRecord("s", task.Task{ID: 9, Status: task.StatusCancelled, UpdatedAt: updated})
	assert.Equal(t, updated, rec.FinishedAt)
}
