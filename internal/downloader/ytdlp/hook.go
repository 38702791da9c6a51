package ytdlp

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/italolelis/termidl/internal/downloader"
	"github.com/italolelis/termidl/internal/task"
)

const (
	// NotAvailable replaces speed and ETA values the hook did not receive.
	NotAvailable = "N/A"

	// MessageProcessing is shown once the media is downloaded and post-processing runs.
	MessageProcessing = "Processing..."
)

// Hook states delivered in ProgressInfo.Status.
const (
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
)

// ProgressInfo is the normalized progress record passed to the hook on every tick.
type ProgressInfo struct {
	Status     string
	PercentStr string
	SpeedStr   string
	EtaStr     string
	Filename   string
}

// Translate converts one hook record into a task update. Records for other
// states, or downloading records whose percentage cannot be parsed, are
// reported as ok == false; a resolved name is still returned in that case.
func Translate(p ProgressInfo) (u task.Update, ok bool) {
	switch p.Status {
	case StatusDownloading:
		if p.Filename != "" {
			u.Name = filepath.Base(p.Filename)
		}

		percent, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p.PercentStr), "%")), 64)
		if err != nil {
			return task.Update{Name: u.Name}, false
		}

		u.Status = task.StatusDownloading
		u.Percent = percent
		u.Message = downloader.ProgressMessage(orNA(p.SpeedStr), orNA(p.EtaStr))

		return u, true
	case StatusFinished:
		return task.Update{Status: task.StatusDownloading, Percent: 100, Message: MessageProcessing}, true
	}

	return task.Update{}, false
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}

	return s
}
