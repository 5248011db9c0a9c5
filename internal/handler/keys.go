package handler

import (
	"context"
	"net/http"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/service"
)

// KeyHandler exposes API key lifecycle operations through the dispatch
// table.
type KeyHandler struct {
	keys *service.KeyService
}

// NewKeyHandler builds the handler.
func NewKeyHandler(keys *service.KeyService) *KeyHandler {
	return &KeyHandler{keys: keys}
}

// Register wires the key routes. Listing and usage need read scope;
// mutations need write.
func (h *KeyHandler) Register(reg *gateway.Registry) {
	reg.Register("keys", "", http.MethodGet, model.ScopeRead, h.list)
	reg.Register("keys", "", http.MethodPost, model.ScopeWrite, h.create)
	reg.Register("keys", gateway.IDSegment, http.MethodPut, model.ScopeWrite, h.update)
	reg.Register("keys", gateway.IDSegment, http.MethodDelete, model.ScopeWrite, h.revoke)
	reg.Register("keys", "usage", http.MethodGet, model.ScopeRead, h.usage)
}

func (h *KeyHandler) list(ctx context.Context, req *gateway.Request, p *model.Principal) (any, error) {
	views, err := h.keys.ListForOwner(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"keys": views, "count": len(views)}, nil
}

func (h *KeyHandler) create(ctx context.Context, req *gateway.Request, p *model.Principal) (any, error) {
	name, ok := paramString(req, "name")
	if !ok || name == "" {
		return nil, gateway.ErrValidation("name is required")
	}
	scopes, _ := paramStrings(req, "scopes")
	allowlist, _ := paramStrings(req, "ip_allowlist")
	expires, err := paramTime(req, "expires_at")
	if err != nil {
		return nil, err
	}

	created, err := h.keys.Create(ctx, p.UserID, service.CreateParams{
		Name:        name,
		Scopes:      scopes,
		ExpiresAt:   expires,
		IPAllowlist: allowlist,
	})
	if err != nil {
		return nil, err
	}

	// The raw secret appears in this response and nowhere else.
	return map[string]any{
		"id":         created.Key.ID,
		"name":       created.Key.Name,
		"key":        created.RawSecret,
		"key_prefix": created.Key.KeyPrefix,
		"scopes":     created.Key.Scopes(),
		"expires_at": created.Key.ExpiresAt,
	}, nil
}

func (h *KeyHandler) update(ctx context.Context, req *gateway.Request, p *model.Principal) (any, error) {
	id, err := recordID(req)
	if err != nil {
		return nil, err
	}

	var params service.UpdateParams
	if name, ok := paramString(req, "name"); ok {
		params.Name = &name
	}
	if scopes, ok := paramStrings(req, "scopes"); ok {
		params.Scopes = scopes
	}
	if allow, ok := paramStrings(req, "ip_allowlist"); ok {
		params.IPAllowlist = allow
	}
	if paramBool(req, "clear_expiry") {
		params.ClearExpiry = true
	} else {
		expires, err := paramTime(req, "expires_at")
		if err != nil {
			return nil, err
		}
		params.ExpiresAt = expires
	}

	key, err := h.keys.Update(ctx, id, p.UserID, params)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (h *KeyHandler) revoke(ctx context.Context, req *gateway.Request, p *model.Principal) (any, error) {
	id, err := recordID(req)
	if err != nil {
		return nil, err
	}
	if err := h.keys.Revoke(ctx, id, p.UserID); err != nil {
		return nil, err
	}
	return map[string]any{"revoked": true, "id": id}, nil
}

func (h *KeyHandler) usage(ctx context.Context, req *gateway.Request, p *model.Principal) (any, error) {
	id, err := recordID(req)
	if err != nil {
		return nil, err
	}
	view, err := h.keys.UsageStats(ctx, id, p.UserID)
	if err != nil {
		return nil, err
	}
	return view, nil
}
