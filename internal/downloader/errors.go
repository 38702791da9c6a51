package downloader

import (
	"errors"
	"fmt"
)

// ErrPauseUnsupported is returned by Pause and Resume on backends that cannot pause.
var ErrPauseUnsupported = errors.New("pause is not supported by this backend")

// LaunchError means the backend could not be started at all
// (missing executable, bad arguments, library initialisation failure).
type LaunchError struct {
	Backend string // Backend that failed to launch
	Err     error  // Underlying error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Backend, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ExitError means the backend ran but finished unsuccessfully.
type ExitError struct {
	Backend     string // Backend that failed
	ExitCode    int    // Process exit code, 0 when not applicable
	Diagnostics string // Captured error output of the backend
	Err         error  // Underlying error, if any
}

func (e *ExitError) Error() string {
	if e.Diagnostics != "" {
		return e.Diagnostics
	}

	if e.ExitCode != 0 {
		return fmt.Sprintf("%s exited with code %d", e.Backend, e.ExitCode)
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("%s failed", e.Backend)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ErrorMessage renders err as the status text of a failed task.
func ErrorMessage(err error) string {
	var launchErr *LaunchError
	if errors.As(err, &launchErr) {
		return "Exception: " + launchErr.Err.Error()
	}

	return "Error: " + err.Error()
}
