package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/purrrlove/perch/internal/audit"
	pmcp "github.com/purrrlove/perch/internal/mcp"
	"github.com/purrrlove/perch/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP admin server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes gateway
administration as tools for AI agents: key management, OAuth client
registration, and the security-event audit trail.

In stdio mode, the MCP server communicates over stdin/stdout using
JSON-RPC, suitable for clients that launch it as a subprocess. In HTTP
mode, the server listens on the specified port.`,
		Example: `  perch mcp                               # stdio mode
  perch mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys := service.NewKeyService(st)
	oauth := service.NewOAuthService(st, audit.NewStoreSink(st, logger))

	mcpSrv := pmcp.NewMCPServer(st, keys, oauth, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
