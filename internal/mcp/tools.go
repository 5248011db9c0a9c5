package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/purrrlove/perch/internal/service"
)

// registerTools registers the gateway admin tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Credential inspection -----

	srv.AddTool(
		mcp.NewTool("perch_list_keys",
			mcp.WithDescription(
				"List a user's API keys. Returns each key's name, display prefix, "+
					"scopes, active status, expiry, and usage count. Raw secrets are "+
					"never available after creation.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("user_id",
				mcp.Required(),
				mcp.Description("ID of the user whose keys to list"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("perch_key_usage",
			mcp.WithDescription(
				"Usage statistics for one API key: request count, last-used time, "+
					"and the key's rate-limit tier.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("user_id",
				mcp.Required(),
				mcp.Description("ID of the user who owns the key"),
			),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("ID of the key"),
			),
		),
		s.handleKeyUsage,
	)

	srv.AddTool(
		mcp.NewTool("perch_list_clients",
			mcp.WithDescription(
				"List registered OAuth2 client applications with their redirect "+
					"URIs and granted scopes.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListClients,
	)

	// ----- Credential mutation -----

	srv.AddTool(
		mcp.NewTool("perch_create_key",
			mcp.WithDescription(
				"Create an API key for a user. The raw secret appears in this "+
					"tool's result and nowhere else; store it immediately.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("user_id",
				mcp.Required(),
				mcp.Description("ID of the user to create the key for"),
			),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Human-readable key name"),
			),
			mcp.WithArray("scopes",
				mcp.Description("Scopes to grant (read, write, admin, client). Defaults to read."),
				mcp.WithStringItems(),
			),
			mcp.WithString("expires_at",
				mcp.Description("Optional RFC 3339 expiry timestamp"),
			),
			mcp.WithArray("ip_allowlist",
				mcp.Description("Optional list of IPs or CIDR blocks the key may be used from"),
				mcp.WithStringItems(),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("perch_revoke_key",
			mcp.WithDescription(
				"Revoke an API key. Takes effect on the very next request that "+
					"presents the key. Revoking an already-revoked key succeeds.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("user_id",
				mcp.Required(),
				mcp.Description("ID of the user who owns the key"),
			),
			mcp.WithNumber("key_id",
				mcp.Required(),
				mcp.Description("ID of the key to revoke"),
			),
		),
		s.handleRevokeKey,
	)

	srv.AddTool(
		mcp.NewTool("perch_register_client",
			mcp.WithDescription(
				"Register an OAuth2 client application. The client secret appears "+
					"in this tool's result and nowhere else.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Application name"),
			),
			mcp.WithString("redirect_uri",
				mcp.Required(),
				mcp.Description("Redirect URI for the authorization flow"),
			),
			mcp.WithArray("scopes",
				mcp.Description("Scopes the client may request. Defaults to read."),
				mcp.WithStringItems(),
			),
		),
		s.handleRegisterClient,
	)

	// ----- Audit -----

	srv.AddTool(
		mcp.NewTool("perch_security_events",
			mcp.WithDescription(
				"List recent security events from the audit trail: auth failures, "+
					"rate-limit denials, CORS violations, and OAuth flow failures. "+
					"Newest first.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("type",
				mcp.Description("Filter by event type (e.g. auth_failure, rate_limit_exceeded)"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of events to return (default 100, max 1000)"),
			),
		),
		s.handleSecurityEvents,
	)
}

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireInt("user_id")
	if err != nil {
		return toolError("missing required parameter %q", "user_id")
	}
	views, err := s.keys.ListForOwner(ctx, int64(userID))
	if err != nil {
		return toolError("list keys: %v", err)
	}
	return successJSON(map[string]any{"keys": views, "count": len(views)})
}

func (s *MCPServer) handleKeyUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireInt("user_id")
	if err != nil {
		return toolError("missing required parameter %q", "user_id")
	}
	keyID, err := request.RequireInt("key_id")
	if err != nil {
		return toolError("missing required parameter %q", "key_id")
	}
	view, err := s.keys.UsageStats(ctx, int64(keyID), int64(userID))
	if err != nil {
		return toolError("usage stats: %v", err)
	}
	return successJSON(view)
}

func (s *MCPServer) handleListClients(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clients, err := s.store.ListOAuthClients(ctx)
	if err != nil {
		return toolError("list clients: %v", err)
	}
	out := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		out = append(out, map[string]any{
			"client_id":    c.ClientID,
			"name":         c.Name,
			"redirect_uri": c.RedirectURI,
			"scopes":       c.Scopes(),
			"is_active":    c.IsActive,
		})
	}
	return successJSON(map[string]any{"clients": out, "count": len(out)})
}

func (s *MCPServer) handleCreateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireInt("user_id")
	if err != nil {
		return toolError("missing required parameter %q", "user_id")
	}
	name, err := request.RequireString("name")
	if err != nil {
		return toolError("missing required parameter %q", "name")
	}

	params := service.CreateParams{
		Name:        name,
		Scopes:      request.GetStringSlice("scopes", nil),
		IPAllowlist: request.GetStringSlice("ip_allowlist", nil),
	}
	if raw := request.GetString("expires_at", ""); raw != "" {
		t, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			return toolError("expires_at must be an RFC 3339 timestamp")
		}
		params.ExpiresAt = &t
	}

	created, err := s.keys.Create(ctx, int64(userID), params)
	if err != nil {
		return toolError("create key: %v", err)
	}
	return successJSON(map[string]any{
		"id":         created.Key.ID,
		"name":       created.Key.Name,
		"key":        created.RawSecret,
		"key_prefix": created.Key.KeyPrefix,
		"scopes":     created.Key.Scopes(),
	})
}

func (s *MCPServer) handleRevokeKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireInt("user_id")
	if err != nil {
		return toolError("missing required parameter %q", "user_id")
	}
	keyID, err := request.RequireInt("key_id")
	if err != nil {
		return toolError("missing required parameter %q", "key_id")
	}
	if err := s.keys.Revoke(ctx, int64(keyID), int64(userID)); err != nil {
		return toolError("revoke key: %v", err)
	}
	return successJSON(map[string]any{"revoked": true, "id": keyID})
}

func (s *MCPServer) handleRegisterClient(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return toolError("missing required parameter %q", "name")
	}
	redirectURI, err := request.RequireString("redirect_uri")
	if err != nil {
		return toolError("missing required parameter %q", "redirect_uri")
	}

	client, secret, err := s.oauth.RegisterClient(ctx, name, redirectURI, request.GetStringSlice("scopes", nil))
	if err != nil {
		return toolError("register client: %v", err)
	}
	return successJSON(map[string]any{
		"client_id":     client.ClientID,
		"client_secret": secret,
		"name":          client.Name,
		"redirect_uri":  client.RedirectURI,
		"scopes":        client.Scopes(),
	})
}

func (s *MCPServer) handleSecurityEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events, err := s.store.ListSecurityEvents(ctx, request.GetString("type", ""), request.GetInt("limit", 0))
	if err != nil {
		return toolError("list events: %v", err)
	}
	return successJSON(map[string]any{"events": events, "count": len(events)})
}
