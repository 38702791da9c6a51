package task

import (
	"fmt"
	"strings"
	"time"
)

// UnknownName is the display name of a task whose backend has not resolved one yet.
const UnknownName = "Unknown"

// Status represents the lifecycle state of a download task.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusStarting    Status = "starting"
	StatusDownloading Status = "downloading"
	// StatusCancelling is shown between a cancel request and the backend's confirmation.
	StatusCancelling Status = "cancelling"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions can happen from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// IsActive returns true while a backend is (or may still be) working on the task.
func (s Status) IsActive() bool {
	return s == StatusStarting || s == StatusDownloading || s == StatusCancelling
}

// Backend identifies which external mechanism executes a task.
type Backend string

const (
	// BackendAria2 runs aria2c as a child process (direct and torrent downloads).
	BackendAria2 Backend = "aria2"
	// BackendYtdlp runs a yt-dlp library call (media extraction).
	BackendYtdlp Backend = "ytdlp"
)

func (b Backend) String() string {
	return string(b)
}

// Label returns the human readable backend name used by the dashboard.
func (b Backend) Label() string {
	switch b {
	case BackendAria2:
		return "Direct/Torrent (Aria2)"
	case BackendYtdlp:
		return "YouTube (yt-dlp)"
	default:
		return string(b)
	}
}

// ParseBackend maps user input to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendAria2:
		return BackendAria2, nil
	case BackendYtdlp:
		return BackendYtdlp, nil
	}

	return "", fmt.Errorf("unknown backend %q", s)
}

// Task is one user-initiated download. Values handed out by the supervisor are copies.
type Task struct {
	ID              int64     `json:"id"`
	URL             string    `json:"url"`
	Backend         Backend   `json:"backend"`
	DestinationPath string    `json:"destination_path"`
	DisplayName     string    `json:"display_name"`
	Status          Status    `json:"status"`
	Progress        float64   `json:"progress"`
	Message         string    `json:"message"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}

// Update is the normalized progress signal a backend sends to the supervisor.
type Update struct {
	Status  Status
	Percent float64
	Message string
	// Name is the resolved display name. Empty leaves the current name untouched.
	Name string
}

// EventKind tells subscribers what changed.
type EventKind string

const (
	EventAdded    EventKind = "added"
	EventProgress EventKind = "progress"
	EventStatus   EventKind = "status"
)

// Event is delivered to supervisor subscribers after every applied change.
type Event struct {
	Kind EventKind
	Task Task
}
