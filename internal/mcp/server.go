package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/purrrlove/perch/internal/service"
	"github.com/purrrlove/perch/internal/store"
)

// MCPServer wraps the mcp-go server with the gateway's admin tools. It
// gives operators and AI agents a direct line to credential and audit
// management without going through the HTTP surface.
type MCPServer struct {
	store  *store.Store
	keys   *service.KeyService
	oauth  *service.OAuthService
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with the admin tools. The
// returned server is ready to serve over stdio or HTTP.
func NewMCPServer(st *store.Store, keys *service.KeyService, oauth *service.OAuthService, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:  st,
		keys:   keys,
		oauth:  oauth,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Perch Gateway Admin",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, the integration path
// for clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{ReadOnlyHint: boolPtr(false)}
}

func boolPtr(b bool) *bool {
	return &b
}
