//go:build !windows

package cli

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches the daemonized server from the controlling
// terminal by starting it in its own session.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func findProcess(pid int) *os.Process {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc
}

// isProcessRunning probes the PID with signal 0.
func isProcessRunning(pid int) bool {
	proc := findProcess(pid)
	return proc != nil && proc.Signal(syscall.Signal(0)) == nil
}

// stopProcess asks the server to drain and exit via SIGTERM.
func stopProcess(pid int) error {
	proc := findProcess(pid)
	if proc == nil {
		return os.ErrProcessDone
	}
	return proc.Signal(syscall.SIGTERM)
}

// killProcess ends the server immediately. Used by 'perch stop --force'
// when a SIGTERM drain does not finish in time.
func killProcess(pid int) error {
	proc := findProcess(pid)
	if proc == nil {
		return os.ErrProcessDone
	}
	return proc.Signal(syscall.SIGKILL)
}
