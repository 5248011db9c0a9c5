package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/service"
)

// SessionHandler exposes login plus the authenticated profile operations.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler builds the handler.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Register wires the authenticated auth/* routes.
func (h *SessionHandler) Register(reg *gateway.Registry) {
	reg.Register("auth", "profile", http.MethodGet, model.ScopeRead, h.profile)
	reg.Register("auth", "profile", http.MethodPut, model.ScopeWrite, h.updateProfile)
	reg.Register("auth", "logout", http.MethodPost, "", h.logout)
}

// Login is the unauthenticated credential exchange endpoint. It is mounted
// outside the dispatch table because callers have no principal yet.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if body.Email == "" || body.Password == "" {
		WriteError(w, r, gateway.ErrValidation("email and password are required"))
		return
	}

	token, user, err := h.sessions.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, service.ErrAccountDisabled) {
			WriteError(w, r, gateway.ErrUnauthenticated(err.Error()))
			return
		}
		WriteError(w, r, err)
		return
	}

	WriteData(w, r, http.StatusOK, map[string]any{
		"token":      token,
		"token_type": "bearer",
		"expires_in": int(h.sessions.TTL().Seconds()),
		"user":       user,
	})
}

func (h *SessionHandler) profile(ctx context.Context, req *gateway.Request, p *model.Principal) (any, error) {
	return h.sessions.Profile(ctx, p)
}

func (h *SessionHandler) updateProfile(ctx context.Context, req *gateway.Request, p *model.Principal) (any, error) {
	name, ok := paramString(req, "name")
	if !ok || name == "" {
		return nil, gateway.ErrValidation("name is required")
	}
	return h.sessions.UpdateProfile(ctx, p, name)
}

// logout acknowledges the client discarding its token. Session tokens are
// stateless, so expiry is the server-side bound.
func (h *SessionHandler) logout(ctx context.Context, req *gateway.Request, p *model.Principal) (any, error) {
	return map[string]any{"logged_out": true}, nil
}
