package rest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/termidl/internal/supervisor"
	"github.com/italolelis/termidl/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

type fakeService struct {
	mu      sync.Mutex
	tasks   map[int64]task.Task
	nextID  int64
	added   []AddTaskRequest
	addErr  error
	cancels []int64
}

func newFakeService(tasks ...task.Task) *fakeService {
	s := &fakeService{tasks: make(map[int64]task.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
		s.nextID = max(s.nextID, t.ID)
	}

	return s
}

func (s *fakeService) AddTask(_ context.Context, url, destinationPath string, backend task.Backend) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.addErr != nil {
		return 0, s.addErr
	}

	s.nextID++
	s.added = append(s.added, AddTaskRequest{URL: url, Path: destinationPath, Backend: backend.String()})
	s.tasks[s.nextID] = task.Task{ID: s.nextID, URL: url, Backend: backend, DestinationPath: destinationPath}

	return s.nextID, nil
}

func (s *fakeService) CancelTask(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return &supervisor.UnknownTaskError{ID: id}
	}

	s.cancels = append(s.cancels, id)

	return nil
}

func (s *fakeService) Snapshot() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]task.Task, 0, len(s.tasks))
	for id := int64(1); id <= s.nextID; id++ {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t)
		}
	}

	return out
}

func (s *fakeService) Task(id int64) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]

	return t, ok
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestTasks_List(t *testing.T) {
	svc := newFakeService(
		task.Task{ID: 1, URL: "http://a", Backend: task.BackendAria2, Status: task.StatusDownloading, Progress: 42, CreatedAt: time.Now()},
		task.Task{ID: 2, URL: "http://b", Backend: task.BackendYtdlp, Status: task.StatusCompleted, Progress: 100, CreatedAt: time.Now()},
	)

	rec := do(t, NewRouter(svc, "/dl", nil, nil), http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, 42.0, got[0].Progress)
	assert.Equal(t, task.BackendYtdlp, got[1].Backend)
	assert.Equal(t, task.StatusCompleted, got[1].Status)
	assert.NotEmpty(t, got[0].Age)
}

func TestTasks_ListEmpty(t *testing.T) {
	rec := do(t, NewRouter(newFakeService(), "/dl", nil, nil), http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestTasks_Get(t *testing.T) {
	svc := newFakeService(task.Task{ID: 7, URL: "http://a", DisplayName: "file.iso"})
	h := NewRouter(svc, "/dl", nil, nil)

	rec := do(t, h, http.MethodGet, "/tasks/7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "file.iso", got.DisplayName)

	rec = do(t, h, http.MethodGet, "/tasks/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown task id 99")

	rec = do(t, h, http.MethodGet, "/tasks/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTasks_Add(t *testing.T) {
	svc := newFakeService()
	h := NewRouter(svc, "/dl", nil, nil)

	rec := do(t, h, http.MethodPost, "/tasks", `{"url":"https://example.com/v","path":"/videos","backend":"ytdlp"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":1}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/tasks", `{"url":"https://example.com/f.iso"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":2}`, rec.Body.String())

	require.Len(t, svc.added, 2)
	assert.Equal(t, AddTaskRequest{URL: "https://example.com/v", Path: "/videos", Backend: "ytdlp"}, svc.added[0])
	assert.Equal(t, AddTaskRequest{URL: "https://example.com/f.iso", Path: "/dl", Backend: "aria2"}, svc.added[1])
}

func TestTasks_AddRejectsBadInput(t *testing.T) {
	svc := newFakeService()
	h := NewRouter(svc, "/dl", nil, nil)

	rec := do(t, h, http.MethodPost, "/tasks", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/tasks", `{"url":"http://a","backend":"curl"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.addErr = fmt.Errorf("%w: url is required", supervisor.ErrInvalidRequest)
	rec = do(t, h, http.MethodPost, "/tasks", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "url is required")

	svc.addErr = fmt.Errorf("boom")
	rec = do(t, h, http.MethodPost, "/tasks", `{"url":"http://a"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTasks_AddRejectsOversizedBody(t *testing.T) {
	svc := newFakeService()
	h := NewRouter(svc, "/dl", nil, nil)

	body := `{"url":"","metainfo":"` + strings.Repeat("A", maxAddBody) + `"}`

	rec := do(t, h, http.MethodPost, "/tasks", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "request body exceeds")
	assert.Empty(t, svc.added)
}

func TestTasks_AddMetainfo(t *testing.T) {
	dir := t.TempDir()
	svc := newFakeService()
	h := NewRouter(svc, dir, nil, nil)

	torrent, err := bencode.EncodeBytes(map[string]any{
		"announce": "http://tracker.example/announce",
		"info":     map[string]any{"name": "ubuntu.iso", "length": 1024, "piece length": 16384, "pieces": ""},
	})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"metainfo":%q}`, base64.StdEncoding.EncodeToString(torrent))
	rec := do(t, h, http.MethodPost, "/tasks", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, svc.added, 1)
	stored := svc.added[0].URL
	assert.Equal(t, dir, filepath.Dir(stored))
	assert.Equal(t, ".torrent", filepath.Ext(stored))
	assert.Equal(t, "aria2", svc.added[0].Backend)

	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, torrent, data)
}

func TestTasks_AddMetainfoRejected(t *testing.T) {
	h := NewRouter(newFakeService(), t.TempDir(), nil, nil)

	noInfo, err := bencode.EncodeBytes(map[string]any{"announce": "x"})
	require.NoError(t, err)

	tests := map[string]string{
		"not base64":   `{"metainfo":"!!!"}`,
		"not bencode":  fmt.Sprintf(`{"metainfo":%q}`, base64.StdEncoding.EncodeToString([]byte("hello"))),
		"missing info": fmt.Sprintf(`{"metainfo":%q}`, base64.StdEncoding.EncodeToString(noInfo)),
		"wrong backend": fmt.Sprintf(`{"backend":"ytdlp","metainfo":%q}`,
			base64.StdEncoding.EncodeToString(noInfo)),
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/tasks", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestTasks_Cancel(t *testing.T) {
	svc := newFakeService(task.Task{ID: 3, Status: task.StatusDownloading})
	h := NewRouter(svc, "/dl", nil, nil)

	rec := do(t, h, http.MethodDelete, "/tasks/3", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{3}, svc.cancels)

	rec = do(t, h, http.MethodDelete, "/tasks/4", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []int64{3}, svc.cancels)
}

func TestRouter_SetsRequestID(t *testing.T) {
	rec := do(t, NewRouter(newFakeService(), "/dl", nil, nil), http.MethodGet, "/tasks", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_MetricsDisabled(t *testing.T) {
	rec := do(t, NewRouter(newFakeService(), "/dl", nil, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
