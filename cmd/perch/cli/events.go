package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var (
		eventType  string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent security events",
		Long:  "Show the audit trail of auth failures, rate-limit denials, CORS violations, and OAuth flow failures.",
		Example: `  perch events
  perch events --type auth_failure --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(eventType, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events (default 100, max 1000)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runEvents(eventType string, limit int, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	events, err := st.ListSecurityEvents(context.Background(), eventType, limit)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	if len(events) == 0 {
		fmt.Println("No security events recorded.")
		return nil
	}

	fmt.Printf("%-20s %-24s %-16s %s\n", "TIME", "TYPE", "IP", "DETAIL")
	for _, ev := range events {
		fmt.Printf("%-20s %-24s %-16s %s\n",
			ev.CreatedAt.Format(time.DateTime), ev.Type, ev.IP, ev.DetailRaw)
	}

	return nil
}
