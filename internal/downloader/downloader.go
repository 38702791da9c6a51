package downloader

import (
	"context"
	"fmt"

	"github.com/italolelis/termidl/internal/task"
)

// Downloader executes a single download on one backend.
//
// Start blocks until the backend reaches a terminal state and reports exactly one
// terminal update through the Reporter it was built with. Cancel never blocks: it
// signals in-flight work to stop and the variant reports "cancelled" once the
// backend has let go. Pause and Resume return ErrPauseUnsupported when the backend
// has no native pause mechanism.
type Downloader interface {
	Start(ctx context.Context, url, filename string)
	Cancel()
	Pause() error
	Resume() error
}

// Reporter receives normalized progress updates from a Downloader.
// Implementations must be safe to call from any goroutine.
type Reporter interface {
	Report(u task.Update)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(u task.Update)

// Report calls f(u).
func (f ReporterFunc) Report(u task.Update) {
	f(u)
}

// Factory builds the Downloader for a backend writing into destinationPath.
type Factory interface {
	New(backend task.Backend, destinationPath string, r Reporter) (Downloader, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(backend task.Backend, destinationPath string, r Reporter) (Downloader, error)

// New calls f.
func (f FactoryFunc) New(backend task.Backend, destinationPath string, r Reporter) (Downloader, error) {
	return f(backend, destinationPath, r)
}

// ProgressMessage formats the speed/ETA detail shown next to a running download.
func ProgressMessage(speed, eta string) string {
	return fmt.Sprintf("Speed: %s | ETA: %s", speed, eta)
}

// Messages reported by every backend on the common transitions.
const (
	MessageStarting  = "Starting download..."
	MessageCompleted = "Download completed!"
	MessageCancelled = "Cancelled"
)
