package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/service"
)

// OAuthHandler serves the token-service endpoints. These are mounted
// outside the authenticated dispatch table: every flow carries its own
// credentials.
type OAuthHandler struct {
	oauth *service.OAuthService
}

// NewOAuthHandler builds the handler.
func NewOAuthHandler(oauth *service.OAuthService) *OAuthHandler {
	return &OAuthHandler{oauth: oauth}
}

// oauthForm reads parameters from either a form-encoded or JSON body,
// falling back to the query string for anything missing.
func oauthForm(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var body map[string]any
		if err := readJSON(r, &body); err != nil {
			return nil, err
		}
		for k, v := range body {
			switch t := v.(type) {
			case string:
				out[k] = t
			case bool:
				out[k] = strconv.FormatBool(t)
			case float64:
				out[k] = strconv.FormatFloat(t, 'f', -1, 64)
			}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, gateway.ErrValidation("Unreadable form body")
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
	}
	return out, nil
}

func splitScopeList(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ','
	})
	return fields
}

// Authorize issues a single-use authorization code. The platform's consent
// UI posts here after the user decides.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	form, err := oauthForm(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	userID, perr := strconv.ParseInt(form["user_id"], 10, 64)
	if perr != nil || userID <= 0 {
		WriteError(w, r, gateway.ErrValidation("user_id is required"))
		return
	}

	res, err := h.oauth.Authorize(r.Context(), service.AuthorizeParams{
		ClientID:    form["client_id"],
		RedirectURI: form["redirect_uri"],
		Scopes:      splitScopeList(form["scope"]),
		UserID:      userID,
		Approved:    form["approved"] == "true" || form["approved"] == "1",
		ClientIP:    clientIP(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteData(w, r, http.StatusOK, res)
}

// Token exchanges an authorization code or refresh token for a fresh pair.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	form, err := oauthForm(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := h.oauth.Token(r.Context(), service.TokenParams{
		GrantType:    form["grant_type"],
		Code:         form["code"],
		RefreshToken: form["refresh_token"],
		ClientID:     form["client_id"],
		ClientSecret: form["client_secret"],
		RedirectURI:  form["redirect_uri"],
		ClientIP:     clientIP(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteData(w, r, http.StatusOK, res)
}

// Revoke invalidates the presented access or refresh token.
func (h *OAuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	form, err := oauthForm(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	token := form["token"]
	if token == "" {
		WriteError(w, r, gateway.ErrValidation("token is required"))
		return
	}
	if err := h.oauth.Revoke(r.Context(), token, clientIP(r)); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteData(w, r, http.StatusOK, map[string]any{"revoked": true})
}

// UserInfo returns the claims behind a bearer token.
func (h *OAuthHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		WriteError(w, r, gateway.ErrUnauthenticated("missing bearer token"))
		return
	}
	claims, err := h.oauth.UserInfo(r.Context(), token, clientIP(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteData(w, r, http.StatusOK, claims)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
