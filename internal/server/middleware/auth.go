package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/service"
)

// PrincipalKey is the context key for the authenticated principal.
const PrincipalKey contextKey = "principal"

// Authenticate validates the request's credentials before any routing
// happens. Three kinds are accepted: a session or OAuth bearer token via
// the Authorization header, and an API key via the X-API-Key header or
// the api_key query parameter. On success the principal is attached to
// the request context; on failure the request stops here with a 401, so
// unauthenticated callers never learn which resources exist.
func Authenticate(auth *service.AuthService, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := service.Credentials{
				ClientIP: remoteIP(r),
			}
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				creds.BearerToken = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			}
			creds.APIKey = r.Header.Get("X-API-Key")
			if creds.APIKey == "" {
				creds.APIKey = r.URL.Query().Get("api_key")
			}

			p, err := auth.Authenticate(r.Context(), creds)
			if err != nil {
				writeError(w, r, err, devMode)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for unauthenticated requests.
func GetPrincipal(ctx context.Context) *model.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*model.Principal); ok {
		return p
	}
	return nil
}

// remoteIP strips the port from RemoteAddr. RealIP runs earlier in the
// chain, so RemoteAddr already reflects forwarding headers.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
