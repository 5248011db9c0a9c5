//go:build windows

package cli

import (
	"os"
	"os/exec"
)

// setSysProcAttr is a no-op on Windows; run the server in the foreground
// or under a service wrapper instead of --daemon.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning probes the PID. FindProcess always succeeds on
// Windows, so signalability is the only available liveness check.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(os.Interrupt) != os.ErrProcessDone
}

// stopProcess kills the process outright; Windows has no SIGTERM
// equivalent for a graceful drain.
func stopProcess(pid int) error {
	return killProcess(pid)
}

func killProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
