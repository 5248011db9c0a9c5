package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var force bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background Perch server",
		Long:  "Stop a Perch server that was started with 'perch serve --daemon'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(force, timeout)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Kill the server if it does not drain within the timeout")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for a graceful shutdown")

	return cmd
}

func runStop(force bool, timeout time.Duration) error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("no running server found (missing PID file at %s)", pidFilePath())
	}

	if !isProcessRunning(pid) {
		removePID()
		return fmt.Errorf("server (PID %d) is not running (stale PID file removed)", pid)
	}

	fmt.Printf("Stopping Perch server (PID %d)...\n", pid)

	if err := stopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if waitForExit(pid, timeout) {
		removePID()
		fmt.Println("Server stopped.")
		return nil
	}

	if !force {
		return fmt.Errorf("server (PID %d) did not stop within %s; it may still be draining connections (retry with --force)", pid, timeout)
	}

	fmt.Printf("Server did not drain within %s, killing...\n", timeout)
	if err := killProcess(pid); err != nil {
		return fmt.Errorf("failed to kill server: %w", err)
	}
	if !waitForExit(pid, 2*time.Second) {
		return fmt.Errorf("server (PID %d) survived SIGKILL", pid)
	}
	removePID()
	fmt.Println("Server killed.")
	return nil
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isProcessRunning(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !isProcessRunning(pid)
}
