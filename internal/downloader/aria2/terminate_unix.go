//go:build !windows

package aria2

import (
	"os"
	"syscall"
)

// terminate asks the child process to exit with SIGTERM so aria2c can flush its control file.
func terminate(proc *os.Process) error {
	if proc == nil {
		return nil
	}

	return proc.Signal(syscall.SIGTERM)
}
