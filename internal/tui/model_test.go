package tui

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/italolelis/termidl/internal/downloader"
	"github.com/italolelis/termidl/internal/supervisor"
	"github.com/italolelis/termidl/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addCall struct {
	url, path string
	backend   task.Backend
}

type fakeService struct {
	mu      sync.Mutex
	tasks   []task.Task
	adds    []addCall
	cancels []int64
	addErr  error
}

func (s *fakeService) AddTask(_ context.Context, url, path string, backend task.Backend) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.addErr != nil {
		return 0, s.addErr
	}

	s.adds = append(s.adds, addCall{url, path, backend})
	id := int64(len(s.tasks) + 1)
	s.tasks = append(s.tasks, task.Task{
		ID: id, URL: url, Backend: backend, DestinationPath: path,
		DisplayName: task.UnknownName, Status: task.StatusStarting,
	})

	return id, nil
}

func (s *fakeService) CancelTask(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.cancels = append(s.cancels, id)
			s.tasks[i].Status = task.StatusCancelling

			return nil
		}
	}

	return &supervisor.UnknownTaskError{ID: id}
}

func (s *fakeService) PauseTask(int64) error  { return downloader.ErrPauseUnsupported }
func (s *fakeService) ResumeTask(int64) error { return downloader.ErrPauseUnsupported }

func (s *fakeService) Snapshot() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]task.Task(nil), s.tasks...)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}

	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()

	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)

	return nm, cmd
}

func newModel(svc *fakeService) Model {
	return New(context.Background(), svc, Options{
		RefreshInterval: time.Millisecond,
		DownloadPath:    "/home/me/Downloads",
	})
}

func TestRows(t *testing.T) {
	got := rows([]task.Task{{
		ID: 3, Backend: task.BackendYtdlp, DisplayName: "clip.mp4",
		Status: task.StatusDownloading, Progress: 42.5, Message: "Speed: 2MiB/s | ETA: 00:10",
	}})

	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0][0])
	assert.Equal(t, "YouTube (yt-dlp)", got[0][1])
	assert.Equal(t, "clip.mp4", got[0][2])
	assert.Equal(t, "downloading", got[0][3])
	assert.Contains(t, got[0][4], "42.5%")
	assert.Equal(t, "Speed: 2MiB/s | ETA: 00:10", got[0][5])
}

func TestProgressCell(t *testing.T) {
	assert.Equal(t, "░░░░░░░░░░   0.0%", progressCell(0))
	assert.Equal(t, "█████░░░░░  50.0%", progressCell(50))
	assert.Equal(t, "██████████ 100.0%", progressCell(100))
	assert.Equal(t, "██████████ 100.0%", progressCell(250))
}

func TestColumns(t *testing.T) {
	cols := columns(120)
	require.Len(t, cols, 6)
	assert.Equal(t, []string{"ID", "Type", "Name", "Status", "Progress", "Details"},
		[]string{cols[0].Title, cols[1].Title, cols[2].Title, cols[3].Title, cols[4].Title, cols[5].Title})
	assert.Equal(t, 10, columns(20)[5].Width)
}

func TestModel_TickRefreshesRows(t *testing.T) {
	svc := &fakeService{}
	m := newModel(svc)
	assert.Empty(t, m.table.Rows())

	svc.tasks = append(svc.tasks, task.Task{ID: 1, Backend: task.BackendAria2, DisplayName: "a.iso", Status: task.StatusDownloading})

	m, cmd := send(t, m, tickMsg(time.Now()))
	require.NotNil(t, cmd)
	require.Len(t, m.table.Rows(), 1)
	assert.Equal(t, "a.iso", m.table.Rows()[0][2])
}

func TestModel_Quit(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		_, cmd := send(t, newModel(&fakeService{}), key(k))
		require.NotNil(t, cmd, k)
		assert.Equal(t, tea.QuitMsg{}, cmd(), k)
	}
}

func TestModel_AddDialog(t *testing.T) {
	svc := &fakeService{}
	m := newModel(svc)

	m, _ = send(t, m, key("a"))
	require.Equal(t, modeAdd, m.mode)
	assert.Equal(t, "/home/me/Downloads", m.path.Value())

	m, _ = send(t, m, key("https://example.com/v"))
	m, _ = send(t, m, key("tab"))
	m, _ = send(t, m, key("tab"))
	require.Equal(t, fieldBackend, m.focus)
	m, _ = send(t, m, key("right"))
	assert.Equal(t, task.BackendYtdlp, m.backend)

	m, _ = send(t, m, key("enter"))
	assert.Equal(t, modeList, m.mode)
	require.Len(t, svc.adds, 1)
	assert.Equal(t, addCall{"https://example.com/v", "/home/me/Downloads", task.BackendYtdlp}, svc.adds[0])
	assert.Len(t, m.table.Rows(), 1)
	assert.False(t, m.statusErr)
	assert.Contains(t, m.status, "Added task 1")
}

func TestModel_AddRemembersDestination(t *testing.T) {
	svc := &fakeService{}

	var saved []string

	m := New(context.Background(), svc, Options{
		RefreshInterval: time.Millisecond,
		DownloadPath:    "/home/me/Downloads",
		RememberPath: func(path string) error {
			saved = append(saved, path)

			return nil
		},
	})

	m, _ = send(t, m, key("a"))
	m, _ = send(t, m, key("https://example.com/a.iso"))
	m, _ = send(t, m, key("tab"))
	m.path.SetValue("/srv/isos")
	m, _ = send(t, m, key("enter"))

	require.Len(t, svc.adds, 1)
	assert.Equal(t, "/srv/isos", svc.adds[0].path)
	assert.Equal(t, []string{"/srv/isos"}, saved)

	m, _ = send(t, m, key("a"))
	assert.Equal(t, "/srv/isos", m.path.Value())

	// Same destination again is not saved twice.
	m, _ = send(t, m, key("https://example.com/b.iso"))
	_, _ = send(t, m, key("enter"))

	require.Len(t, svc.adds, 2)
	assert.Equal(t, []string{"/srv/isos"}, saved)
}

func TestModel_AddErrorKeepsDialogOpen(t *testing.T) {
	svc := &fakeService{addErr: fmt.Errorf("%w: url is required", supervisor.ErrInvalidRequest)}
	m := newModel(svc)

	m, _ = send(t, m, key("a"))
	m, _ = send(t, m, key("enter"))

	assert.Equal(t, modeAdd, m.mode)
	assert.True(t, m.statusErr)
	assert.Contains(t, m.status, "url is required")

	m, _ = send(t, m, key("esc"))
	assert.Equal(t, modeList, m.mode)
}

func TestModel_CancelSelected(t *testing.T) {
	svc := &fakeService{tasks: []task.Task{{ID: 1, Status: task.StatusDownloading}}}
	m := newModel(svc)

	m, _ = send(t, m, key("c"))
	assert.Equal(t, []int64{1}, svc.cancels)
	assert.False(t, m.statusErr)
	assert.Equal(t, "cancelling", m.table.Rows()[0][3])
}

func TestModel_CancelWithoutSelection(t *testing.T) {
	svc := &fakeService{}
	m := newModel(svc)

	m, _ = send(t, m, key("c"))
	assert.Empty(t, svc.cancels)
	assert.True(t, m.statusErr)
	assert.Equal(t, "No task selected", m.status)
}

func TestModel_PauseShowsUnsupported(t *testing.T) {
	svc := &fakeService{tasks: []task.Task{{ID: 1, Status: task.StatusDownloading}}}
	m := newModel(svc)

	for _, k := range []string{"p", "r"} {
		m, _ = send(t, m, key(k))
		assert.True(t, m.statusErr)
		assert.Contains(t, m.status, "not supported")
	}
}

func TestModel_View(t *testing.T) {
	svc := &fakeService{tasks: []task.Task{{ID: 1, Backend: task.BackendAria2, DisplayName: "a.iso", Status: task.StatusDownloading}}}
	m := newModel(svc)

	view := m.View()
	assert.Contains(t, view, "a.iso")
	assert.Contains(t, view, "1 active")
	assert.Contains(t, view, "a: add")

	m, _ = send(t, m, key("a"))
	view = m.View()
	assert.Contains(t, view, "Add download")
	assert.Contains(t, view, "Direct/Torrent (Aria2)")
}

func TestThemeByName_FallsBack(t *testing.T) {
	assert.Equal(t, ThemeByName("default").accent, ThemeByName("unknown").accent)
	assert.NotEqual(t, ThemeByName("default").accent, ThemeByName("dark").accent)
}
