package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the Perch server is running",
		Long:  "Check the status of the Perch server: process state, HTTP health, and readiness of the credential store and rate-limit counters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	pid, err := readPID()
	if err != nil {
		fmt.Println("Server is not running (no PID file found).")
		return nil
	}

	if !isProcessRunning(pid) {
		removePID()
		fmt.Println("Server is not running (stale PID file removed).")
		return nil
	}

	baseURL := serverBaseURL()
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		fmt.Printf("Server process is running (PID %d) but not responding to HTTP.\n", pid)
		fmt.Printf("  Logs: %s\n", logFilePath())
		return nil
	}
	resp.Body.Close()

	fmt.Printf("Server is running (PID %d)\n", pid)
	fmt.Printf("  Health:  %s/healthz (%d)\n", baseURL, resp.StatusCode)
	printReadiness(client, baseURL)
	fmt.Printf("  Logs:    %s\n", logFilePath())
	return nil
}

// printReadiness shows the per-component readiness checks so a degraded
// server (e.g. Redis counters unreachable) is visible from the CLI.
func printReadiness(client *http.Client, baseURL string) {
	resp, err := client.Get(baseURL + "/readyz")
	if err != nil {
		fmt.Println("  Ready:   unreachable")
		return
	}
	defer resp.Body.Close()

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Printf("  Ready:   malformed response (%d)\n", resp.StatusCode)
		return
	}

	fmt.Printf("  Ready:   %s\n", body.Status)
	names := make([]string, 0, len(body.Checks))
	for name := range body.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("    %-9s %s\n", name+":", body.Checks[name])
	}
}

func serverBaseURL() string {
	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8080
	}
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}
