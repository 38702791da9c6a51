package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/italolelis/termidl/internal/task"
)

const (
	defaultWidth = 120

	// title, blank line, status line, help line and table borders.
	chromeHeight = 8

	barWidth = 10
)

// Fixed column widths; Details takes what is left.
var fixedWidths = []int{4, 22, 28, 12, 17}

func columns(width int) []table.Column {
	details := width - 2*len(fixedWidths) - 4
	for _, w := range fixedWidths {
		details -= w
	}

	return []table.Column{
		{Title: "ID", Width: fixedWidths[0]},
		{Title: "Type", Width: fixedWidths[1]},
		{Title: "Name", Width: fixedWidths[2]},
		{Title: "Status", Width: fixedWidths[3]},
		{Title: "Progress", Width: fixedWidths[4]},
		{Title: "Details", Width: max(details, 10)},
	}
}

func rows(tasks []task.Task) []table.Row {
	out := make([]table.Row, 0, len(tasks))

	for _, t := range tasks {
		out = append(out, table.Row{
			strconv.FormatInt(t.ID, 10),
			t.Backend.Label(),
			t.DisplayName,
			string(t.Status),
			progressCell(t.Progress),
			t.Message,
		})
	}

	return out
}

// progressCell renders p as a fixed width bar followed by the percentage.
func progressCell(p float64) string {
	p = min(max(p, 0), 100)
	filled := int(p / 100 * barWidth)

	return fmt.Sprintf("%s%s %5.1f%%", strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), p)
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.theme.title.Render("termidl"))
	b.WriteString(m.theme.help.Render(m.summary()))
	b.WriteString("\n\n")

	if m.mode == modeAdd {
		b.WriteString(m.addView())
	} else {
		b.WriteString(m.theme.table.Render(m.table.View()))
	}

	b.WriteString("\n")
	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(m.theme.help.Render(m.helpText()))

	return b.String()
}

func (m Model) summary() string {
	s := fmt.Sprintf("  %d active", m.active)
	if m.opts.MaxConcurrent > 0 {
		s += fmt.Sprintf(" (limit %d)", m.opts.MaxConcurrent)
	}

	return s
}

func (m Model) addView() string {
	backend := fmt.Sprintf("Backend:     < %s >", m.backend.Label())
	if m.focus == fieldBackend {
		backend = m.theme.focused.Render(backend)
	}

	body := lipgloss.JoinVertical(
		lipgloss.Left,
		m.theme.title.Render("Add download"),
		"",
		m.url.View(),
		m.path.View(),
		backend,
	)

	return m.theme.dialog.Render(body)
}

func (m Model) statusView() string {
	if m.status == "" {
		return ""
	}

	if m.statusErr {
		return m.theme.errorText.Render(m.status)
	}

	return m.theme.info.Render(m.status)
}

func (m Model) helpText() string {
	if m.mode == modeAdd {
		return "tab: next field • ←/→: toggle backend • enter: start • esc: back"
	}

	return "a: add • c: cancel • p: pause • r: resume • ↑/↓: select • q: quit"
}
