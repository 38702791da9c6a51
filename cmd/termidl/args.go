package main

import (
	"fmt"

	"github.com/italolelis/termidl/internal/task"
)

// Args holds CLI arguments parsed by go-arg.
type Args struct {
	URLs    []string `arg:"positional" help:"downloads to start as soon as the dashboard opens"`
	Config  string   `arg:"-c,--config" help:"config file (default: $TERMIDL_CONFIG or ~/.termidl_config.json)"`
	Backend string   `arg:"-b,--backend" default:"aria2" help:"backend for positional URLs: aria2 or ytdlp"`
	Dest    string   `arg:"-o,--output" help:"destination for positional URLs (default: download_path)"`
}

func (Args) Description() string {
	return "termidl is a terminal dashboard for aria2c and yt-dlp downloads."
}

func (Args) Version() string {
	return "termidl " + version
}

// backend validates the --backend flag.
func (a Args) backend() (task.Backend, error) {
	b, err := task.ParseBackend(a.Backend)
	if err != nil {
		return "", fmt.Errorf("invalid --backend: %w", err)
	}

	return b, nil
}
