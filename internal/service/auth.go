package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/purrrlove/perch/internal/audit"
	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/store"
)

// Reason codes recorded with auth_failure events. Internal only; clients
// always see a generic 401.
const (
	reasonNoCredentials = "no_credentials"
	reasonUnknownKey    = "unknown_key"
	reasonKeyRevoked    = "key_revoked"
	reasonKeyExpired    = "key_expired"
	reasonIPBlocked     = "ip_not_allowed"
	reasonUnknownToken  = "unknown_token"
	reasonTokenRevoked  = "token_revoked"
	reasonTokenExpired  = "token_expired"
	reasonOwnerDisabled = "owner_disabled"
)

// storeTimeout bounds every credential lookup on the request path. A
// lookup that exceeds it fails closed.
const storeTimeout = 2 * time.Second

// Credentials carries the raw material the authenticator works from. The
// middleware extracts it from the request; nothing here reads ambient
// state.
type Credentials struct {
	BearerToken string // Authorization: Bearer value, without the prefix
	APIKey      string // X-API-Key header or api_key query parameter
	ClientIP    string
}

// AuthService resolves raw credentials into a Principal. Precedence:
// bearer token (session JWT, then OAuth2 access token), then API key.
// Every failure emits exactly one security event; the caller receives a
// generic Unauthenticated error with the internal reason attached for
// logging only.
type AuthService struct {
	store    *store.Store
	sessions *SessionService
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService builds the authenticator.
func NewAuthService(st *store.Store, sessions *SessionService, sink audit.Sink, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:    st,
		sessions: sessions,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the service's time source. Tests only.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
	s.sessions.SetClock(now)
}

// Authenticate resolves creds to a Principal or fails with a typed gateway
// error. Store outages and timeouts surface as StoreUnavailable, never as
// a silent allow.
func (s *AuthService) Authenticate(ctx context.Context, creds Credentials) (*model.Principal, error) {
	if creds.BearerToken != "" {
		return s.authenticateBearer(ctx, creds)
	}
	if creds.APIKey != "" {
		return s.authenticateAPIKey(ctx, creds)
	}
	return nil, s.fail(ctx, creds.ClientIP, reasonNoCredentials, "none")
}

// fail records the single security event for this failure and returns the
// generic error.
func (s *AuthService) fail(ctx context.Context, ip, reason, credKind string) error {
	s.sink.Record(ctx, model.EventAuthFailure, ip, map[string]any{
		"reason_code":     reason,
		"credential_kind": credKind,
	})
	return gateway.ErrUnauthenticated(reason)
}

func (s *AuthService) authenticateBearer(ctx context.Context, creds Credentials) (*model.Principal, error) {
	// Session JWTs verify by signature alone; try that before paying for a
	// store lookup.
	if p, err := s.sessions.Validate(creds.BearerToken); err == nil {
		return p, nil
	}

	lctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	tok, err := s.store.GetOAuthTokenByHash(lctx, store.HashSecret(creds.BearerToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.fail(ctx, creds.ClientIP, reasonUnknownToken, "bearer")
		}
		return nil, gateway.ErrStoreUnavailable(err)
	}
	if tok.Revoked {
		return nil, s.fail(ctx, creds.ClientIP, reasonTokenRevoked, "bearer")
	}
	if tok.Expired(s.now()) {
		return nil, s.fail(ctx, creds.ClientIP, reasonTokenExpired, "bearer")
	}

	tier, active := s.ownerTier(ctx, tok.UserID)
	if !active {
		return nil, s.fail(ctx, creds.ClientIP, reasonOwnerDisabled, "bearer")
	}

	return &model.Principal{
		UserID:   tok.UserID,
		Kind:     model.KindOAuthToken,
		Scopes:   tok.Scopes(),
		Tier:     tier,
		ClientID: tok.ClientID,
	}, nil
}

func (s *AuthService) authenticateAPIKey(ctx context.Context, creds Credentials) (*model.Principal, error) {
	lctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	key, err := s.store.GetAPIKeyByHash(lctx, store.HashSecret(creds.APIKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.fail(ctx, creds.ClientIP, reasonUnknownKey, "api_key")
		}
		return nil, gateway.ErrStoreUnavailable(err)
	}

	if !key.IsActive {
		return nil, s.fail(ctx, creds.ClientIP, reasonKeyRevoked, "api_key")
	}
	if key.Expired(s.now()) {
		return nil, s.fail(ctx, creds.ClientIP, reasonKeyExpired, "api_key")
	}
	if allow := key.IPAllowlist(); len(allow) > 0 && !ipAllowed(creds.ClientIP, allow) {
		return nil, s.fail(ctx, creds.ClientIP, reasonIPBlocked, "api_key")
	}

	tier, active := s.ownerTier(ctx, key.UserID)
	if !active {
		return nil, s.fail(ctx, creds.ClientIP, reasonOwnerDisabled, "api_key")
	}

	// Usage recording is best-effort and detached from the request: the
	// caller must not wait on it, and its failure must not fail the
	// request.
	keyID := key.ID
	go func() {
		uctx, ucancel := context.WithTimeout(context.Background(), storeTimeout)
		defer ucancel()
		if err := s.store.RecordAPIKeyUse(uctx, keyID); err != nil {
			s.logger.Warn("api key usage update failed", "key_id", keyID, "error", err)
		}
	}()

	return &model.Principal{
		UserID: key.UserID,
		Kind:   model.KindAPIKey,
		Scopes: key.Scopes(),
		Tier:   tier,
		KeyID:  key.ID,
	}, nil
}

// ownerTier loads the owning account's tier and active flag. A missing or
// unreadable owner counts as disabled; credentials never outlive their
// account.
func (s *AuthService) ownerTier(ctx context.Context, userID int64) (string, bool) {
	lctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	u, err := s.store.GetUser(lctx, userID)
	if err != nil {
		return "", false
	}
	return u.Tier, u.IsActive
}

// ipAllowed reports whether ip matches an allowlist entry, by exact match
// or CIDR containment.
func ipAllowed(ip string, allowlist []string) bool {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil {
		return false
	}
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(addr) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(addr) {
			return true
		}
	}
	return false
}

// ValidateAllowlist checks allowlist entries at write time so a malformed
// entry fails the create/update instead of silently allowing all traffic.
func ValidateAllowlist(entries []string) error {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return gateway.ErrValidation("IP allowlist entries must not be empty")
		}
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return gateway.ErrValidation("Invalid CIDR in IP allowlist: " + entry)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return gateway.ErrValidation("Invalid IP in allowlist: " + entry)
		}
	}
	return nil
}
