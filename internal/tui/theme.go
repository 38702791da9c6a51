package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme holds the dashboard styles.
type Theme struct {
	accent lipgloss.Color
	muted  lipgloss.Color

	title     lipgloss.Style
	table     lipgloss.Style
	dialog    lipgloss.Style
	focused   lipgloss.Style
	help      lipgloss.Style
	info      lipgloss.Style
	errorText lipgloss.Style
}

var palettes = map[string][2]lipgloss.Color{
	"default": {"62", "241"},
	"dark":    {"212", "245"},
	"light":   {"25", "244"},
}

// ThemeByName returns the named theme, falling back to "default".
func ThemeByName(name string) Theme {
	p, ok := palettes[strings.ToLower(name)]
	if !ok {
		p = palettes["default"]
	}

	accent, muted := p[0], p[1]

	return Theme{
		accent:    accent,
		muted:     muted,
		title:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		table:     lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(accent),
		dialog:    lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(1, 2),
		focused:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		help:      lipgloss.NewStyle().Foreground(muted),
		info:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		errorText: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

func (t Theme) tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.muted).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(t.accent).
		Bold(false)

	return s
}
