//go:build windows

package aria2

import "os"

// terminate kills the child process; Windows has no SIGTERM equivalent for console programs.
func terminate(proc *os.Process) error {
	if proc == nil {
		return nil
	}

	return proc.Kill()
}
