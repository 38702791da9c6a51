package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/italolelis/termidl/internal/downloader"
	"github.com/italolelis/termidl/internal/logctx"
	"github.com/italolelis/termidl/internal/task"
)

// TaskService is what the dashboard needs from the supervisor.
type TaskService interface {
	AddTask(ctx context.Context, url, destinationPath string, backend task.Backend) (int64, error)
	CancelTask(id int64) error
	PauseTask(id int64) error
	ResumeTask(id int64) error
	Snapshot() []task.Task
}

type mode int

const (
	modeList mode = iota
	modeAdd
)

const (
	fieldURL = iota
	fieldPath
	fieldBackend
	fieldCount
)

type tickMsg time.Time

// Options configures a dashboard Model.
type Options struct {
	RefreshInterval time.Duration
	DownloadPath    string
	Theme           string
	// MaxConcurrent is displayed only; tasks are never queued.
	MaxConcurrent int
	// RememberPath, when set, is called with a destination that differs from
	// DownloadPath after a download was added there.
	RememberPath func(path string) error
}

// Model is the bubbletea model of the download dashboard.
type Model struct {
	ctx   context.Context
	tasks TaskService
	opts  Options
	theme Theme

	table   table.Model
	url     textinput.Model
	path    textinput.Model
	backend task.Backend
	focus   int
	mode    mode

	active    int
	status    string
	statusErr bool
}

// New creates the dashboard. ctx is passed to AddTask and carries the logger.
func New(ctx context.Context, tasks TaskService, opts Options) Model {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 500 * time.Millisecond
	}

	theme := ThemeByName(opts.Theme)

	t := table.New(
		table.WithColumns(columns(defaultWidth)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(theme.tableStyles())

	url := textinput.New()
	url.Placeholder = "https://..."
	url.Prompt = "URL:         "
	url.Width = 60

	path := textinput.New()
	path.Prompt = "Destination: "
	path.Width = 60

	m := Model{
		ctx:     ctx,
		tasks:   tasks,
		opts:    opts,
		theme:   theme,
		table:   t,
		url:     url,
		path:    path,
		backend: task.BackendAria2,
	}
	m.refresh()

	return m
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()

		return m, m.tick()

	case tea.WindowSizeMsg:
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(max(msg.Height-chromeHeight, 3))

		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if m.mode == modeAdd {
			return m.updateAdd(msg)
		}

		return m.updateList(msg)
	}

	if m.mode == modeAdd {
		return m.updateInputs(msg)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "a":
		return m.openAdd()
	case "c":
		m.withSelected("cancel", m.tasks.CancelTask)
		m.refresh()

		return m, nil
	case "p":
		m.withSelected("pause", m.tasks.PauseTask)

		return m, nil
	case "r":
		m.withSelected("resume", m.tasks.ResumeTask)

		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m Model) openAdd() (tea.Model, tea.Cmd) {
	m.mode = modeAdd
	m.focus = fieldURL
	m.backend = task.BackendAria2
	m.url.SetValue("")
	m.path.SetValue(m.opts.DownloadPath)
	m.path.Blur()
	m.table.Blur()
	m.clearStatus()

	cmd := m.url.Focus()

	return m, cmd
}

func (m Model) closeAdd() Model {
	m.mode = modeList
	m.url.Blur()
	m.path.Blur()
	m.table.Focus()

	return m
}

func (m Model) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.closeAdd(), nil
	case "tab", "down":
		return m.setFocus((m.focus + 1) % fieldCount)
	case "shift+tab", "up":
		return m.setFocus((m.focus + fieldCount - 1) % fieldCount)
	case "enter":
		return m.submit()
	}

	if m.focus == fieldBackend {
		switch msg.String() {
		case "left", "right", " ":
			m.backend = toggle(m.backend)
		}

		return m, nil
	}

	return m.updateInputs(msg)
}

func (m Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var urlCmd, pathCmd tea.Cmd

	m.url, urlCmd = m.url.Update(msg)
	m.path, pathCmd = m.path.Update(msg)

	return m, tea.Batch(urlCmd, pathCmd)
}

func (m Model) setFocus(field int) (tea.Model, tea.Cmd) {
	m.focus = field
	m.url.Blur()
	m.path.Blur()

	var cmd tea.Cmd

	switch field {
	case fieldURL:
		cmd = m.url.Focus()
	case fieldPath:
		cmd = m.path.Focus()
	}

	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	id, err := m.tasks.AddTask(m.ctx, m.url.Value(), m.path.Value(), m.backend)
	if err != nil {
		logctx.LoggerFromContext(m.ctx).Warn("failed to add task", "err", err)
		m.setError(fmt.Sprintf("Cannot add download: %v", err))

		return m, nil
	}

	m = m.closeAdd()
	m.setInfo(fmt.Sprintf("Added task %d (%s)", id, m.backend.Label()))
	m.rememberPath(m.path.Value())
	m.refresh()

	return m, nil
}

// rememberPath makes path the default destination of the next add dialog.
func (m *Model) rememberPath(path string) {
	if path == "" || path == m.opts.DownloadPath {
		return
	}

	m.opts.DownloadPath = path

	if m.opts.RememberPath == nil {
		return
	}

	if err := m.opts.RememberPath(path); err != nil {
		logctx.LoggerFromContext(m.ctx).Warn("failed to save download path", "path", path, "err", err)
	}
}

// withSelected runs action for the highlighted row and reports failures in the
// status line.
func (m *Model) withSelected(verb string, action func(id int64) error) {
	id, ok := m.selectedID()
	if !ok {
		m.setError("No task selected")

		return
	}

	if err := action(id); err != nil {
		logctx.LoggerFromContext(m.ctx).Warn("task action failed", "action", verb, "task_id", id, "err", err)

		if errors.Is(err, downloader.ErrPauseUnsupported) {
			m.setError(fmt.Sprintf("Task %d: pause/resume is not supported for this download", id))

			return
		}

		m.setError(fmt.Sprintf("Cannot %s task %d: %v", verb, id, err))

		return
	}

	m.setInfo(fmt.Sprintf("Requested %s of task %d", verb, id))
}

func (m Model) selectedID() (int64, bool) {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return 0, false
	}

	id, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

func (m *Model) refresh() {
	snapshot := m.tasks.Snapshot()

	m.active = 0
	for _, t := range snapshot {
		if t.Status.IsActive() {
			m.active++
		}
	}

	m.table.SetRows(rows(snapshot))
}

func (m *Model) setError(s string) {
	m.status = s
	m.statusErr = true
}

func (m *Model) setInfo(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) clearStatus() {
	m.status = ""
	m.statusErr = false
}

func toggle(b task.Backend) task.Backend {
	if b == task.BackendAria2 {
		return task.BackendYtdlp
	}

	return task.BackendAria2
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("dashboard failed: %w", err)
	}

	return nil
}
