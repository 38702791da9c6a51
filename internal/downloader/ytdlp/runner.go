package ytdlp

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lrstanley/go-ytdlp"
)

// DefaultExecutable is looked up in PATH when no override is configured.
const DefaultExecutable = "yt-dlp"

const defaultProgressInterval = 500 * time.Millisecond

// Options are the library options used for every download.
type Options struct {
	// OutputTemplate is the yt-dlp output template, e.g. "<dest>/%(title)s.%(ext)s".
	OutputTemplate string
	// Quiet suppresses the library's own logging.
	Quiet bool
	// Executable overrides the yt-dlp binary driven by the library.
	Executable string
	// ProgressInterval is how often the hook fires while downloading.
	ProgressInterval time.Duration
}

// DefaultOptions returns the options for downloads written into dir.
func DefaultOptions(dir string) Options {
	return Options{
		OutputTemplate:   dir + "/%(title)s.%(ext)s",
		Quiet:            true,
		Executable:       DefaultExecutable,
		ProgressInterval: defaultProgressInterval,
	}
}

// Runner performs one blocking library call, invoking hook for every progress tick.
type Runner interface {
	Run(ctx context.Context, url string, opts Options, hook func(ProgressInfo)) error
}

// LibraryRunner drives yt-dlp through github.com/lrstanley/go-ytdlp.
type LibraryRunner struct{}

// Run downloads url and blocks until yt-dlp exits or ctx is cancelled.
func (LibraryRunner) Run(ctx context.Context, url string, opts Options, hook func(ProgressInfo)) error {
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}

	dl := ytdlp.New().Output(opts.OutputTemplate)

	if opts.Quiet {
		dl = dl.Quiet()
	}

	if opts.Executable != "" {
		dl = dl.SetExecutable(opts.Executable)
	}

	dl = dl.ProgressFunc(interval, func(update ytdlp.ProgressUpdate) {
		hook(progressInfo(update, time.Now()))
	})

	if _, err := dl.Run(ctx, url); err != nil {
		return fmt.Errorf("yt-dlp failed: %w", err)
	}

	return nil
}

// progressInfo normalizes a library progress update into the hook record.
func progressInfo(update ytdlp.ProgressUpdate, now time.Time) ProgressInfo {
	info := ProgressInfo{
		PercentStr: fmt.Sprintf("%.1f%%", update.Percent()),
		SpeedStr:   NotAvailable,
		EtaStr:     NotAvailable,
		Filename:   update.Filename,
	}

	switch update.Status {
	case ytdlp.ProgressStatusFinished:
		info.Status = StatusFinished
	case ytdlp.ProgressStatusDownloading:
		info.Status = StatusDownloading
	default:
		info.Status = string(update.Status)
	}

	if !update.Started.IsZero() {
		if elapsed := now.Sub(update.Started).Seconds(); elapsed > 0 && update.DownloadedBytes > 0 {
			info.SpeedStr = humanize.IBytes(uint64(float64(update.DownloadedBytes)/elapsed)) + "/s"
		}
	}

	if eta := update.ETA(); eta > 0 {
		info.EtaStr = formatETA(eta)
	}

	if info.Filename == "" && update.Info != nil && update.Info.Title != nil {
		info.Filename = *update.Info.Title
	}

	return info
}

// formatETA renders d the way yt-dlp does: MM:SS, or HH:MM:SS past one hour.
func formatETA(d time.Duration) string {
	s := int(d.Round(time.Second).Seconds())
	h, m, sec := s/3600, (s%3600)/60, s%60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}

	return fmt.Sprintf("%02d:%02d", m, sec)
}
