package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/purrrlove/perch/internal/audit"
	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/store"
)

// Token lifetimes, matching the platform configuration.
const (
	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour
	AuthCodeTTL     = 10 * time.Minute
)

// OAuthService implements the authorize/token/revoke/userinfo flows. Raw
// codes and tokens are random; only hashes touch the store, and
// authorization codes are strictly single-use.
type OAuthService struct {
	store *store.Store
	sink  audit.Sink
	now   func() time.Time
}

// NewOAuthService builds the token service.
func NewOAuthService(st *store.Store, sink audit.Sink) *OAuthService {
	return &OAuthService{store: st, sink: sink, now: time.Now}
}

// SetClock overrides the service's time source. Tests only.
func (s *OAuthService) SetClock(now func() time.Time) {
	s.now = now
}

// oauthFail records the single security event for a flow failure and
// returns err unchanged.
func (s *OAuthService) oauthFail(ctx context.Context, ip, reason string, err error) error {
	s.sink.Record(ctx, model.EventOAuthFailure, ip, map[string]any{"reason_code": reason})
	return err
}

// AuthorizeParams is the input to the authorize flow. UserID and Approved
// come from the platform's consent screen.
type AuthorizeParams struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	UserID      int64
	Approved    bool
	ClientIP    string
}

// AuthorizeResult returns the single-use code and where to send it.
type AuthorizeResult struct {
	Code        string    `json:"code"`
	RedirectURI string    `json:"redirect_uri"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authorize validates the client, redirect URI, and requested scopes, and
// issues a short-lived authorization code bound to the approving user.
func (s *OAuthService) Authorize(ctx context.Context, p AuthorizeParams) (*AuthorizeResult, error) {
	client, err := s.client(ctx, p.ClientID)
	if err != nil {
		return nil, s.oauthFail(ctx, p.ClientIP, "unknown_client", err)
	}
	if p.RedirectURI != client.RedirectURI {
		return nil, s.oauthFail(ctx, p.ClientIP, "redirect_mismatch",
			gateway.ErrValidation("Redirect URI does not match client registration"))
	}
	if len(p.Scopes) == 0 {
		p.Scopes = model.DefaultScopes()
	}
	if !client.AllowsScopes(p.Scopes) {
		return nil, s.oauthFail(ctx, p.ClientIP, "scope_exceeds_client",
			gateway.ErrForbidden("requested scope exceeds client registration"))
	}
	if !p.Approved {
		return nil, s.oauthFail(ctx, p.ClientIP, "user_denied",
			gateway.ErrForbidden("user denied the authorization request"))
	}

	raw, err := randomToken()
	if err != nil {
		return nil, err
	}
	code := &model.AuthCode{
		CodeHash:    store.HashSecret(raw),
		ClientID:    client.ClientID,
		UserID:      p.UserID,
		RedirectURI: p.RedirectURI,
		ExpiresAt:   s.now().Add(AuthCodeTTL),
	}
	code.ScopesCSV = strings.Join(p.Scopes, ",")

	if err := s.store.CreateAuthCode(ctx, code); err != nil {
		return nil, err
	}
	return &AuthorizeResult{Code: raw, RedirectURI: p.RedirectURI, ExpiresAt: code.ExpiresAt}, nil
}

// TokenParams is the input to the token flow.
type TokenParams struct {
	GrantType    string // authorization_code | refresh_token
	Code         string
	RefreshToken string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	ClientIP     string
}

// TokenResult is the issued pair, in the OAuth2 wire shape.
type TokenResult struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scope"`
}

// Token exchanges an authorization code or a refresh token for a fresh
// access/refresh pair. Codes are consumed atomically: a second exchange of
// the same code fails ValidationError without issuing anything. Refresh
// rotates: the old pair is revoked before the new one is returned.
func (s *OAuthService) Token(ctx context.Context, p TokenParams) (*TokenResult, error) {
	client, err := s.client(ctx, p.ClientID)
	if err != nil {
		return nil, s.oauthFail(ctx, p.ClientIP, "unknown_client", err)
	}
	if store.HashSecret(p.ClientSecret) != client.SecretHash {
		return nil, s.oauthFail(ctx, p.ClientIP, "bad_client_secret",
			gateway.ErrUnauthenticated("client secret mismatch"))
	}

	switch p.GrantType {
	case "authorization_code":
		return s.exchangeCode(ctx, client, p)
	case "refresh_token":
		return s.refresh(ctx, client, p)
	default:
		return nil, gateway.ErrValidation("Unsupported grant_type")
	}
}

func (s *OAuthService) exchangeCode(ctx context.Context, client *model.OAuthClient, p TokenParams) (*TokenResult, error) {
	code, err := s.store.ConsumeAuthCode(ctx, store.HashSecret(p.Code))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrCodeUsed):
			return nil, s.oauthFail(ctx, p.ClientIP, "code_reused",
				gateway.ErrValidation("Authorization code already used"))
		case errors.Is(err, store.ErrNotFound):
			return nil, s.oauthFail(ctx, p.ClientIP, "unknown_code",
				gateway.ErrValidation("Invalid authorization code"))
		default:
			return nil, err
		}
	}
	if code.ClientID != client.ClientID {
		return nil, s.oauthFail(ctx, p.ClientIP, "code_client_mismatch",
			gateway.ErrValidation("Authorization code was issued to another client"))
	}
	if p.RedirectURI != code.RedirectURI {
		return nil, s.oauthFail(ctx, p.ClientIP, "redirect_mismatch",
			gateway.ErrValidation("Redirect URI does not match the authorization request"))
	}
	if !s.now().Before(code.ExpiresAt) {
		return nil, s.oauthFail(ctx, p.ClientIP, "code_expired",
			gateway.ErrValidation("Authorization code expired"))
	}

	return s.issuePair(ctx, client.ClientID, code.UserID, code.Scopes())
}

func (s *OAuthService) refresh(ctx context.Context, client *model.OAuthClient, p TokenParams) (*TokenResult, error) {
	tok, err := s.store.GetOAuthTokenByRefreshHash(ctx, store.HashSecret(p.RefreshToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.oauthFail(ctx, p.ClientIP, "unknown_refresh_token",
				gateway.ErrUnauthenticated("unknown refresh token"))
		}
		return nil, err
	}
	if tok.Revoked {
		return nil, s.oauthFail(ctx, p.ClientIP, "refresh_token_revoked",
			gateway.ErrUnauthenticated("refresh token revoked"))
	}
	if tok.RefreshExpired(s.now()) {
		return nil, s.oauthFail(ctx, p.ClientIP, "refresh_token_expired",
			gateway.ErrUnauthenticated("refresh token expired"))
	}
	if tok.ClientID != client.ClientID {
		return nil, s.oauthFail(ctx, p.ClientIP, "refresh_client_mismatch",
			gateway.ErrUnauthenticated("refresh token issued to another client"))
	}

	// Rotation: the old pair dies before the new one is handed out.
	if err := s.store.RevokeOAuthToken(ctx, tok.ID); err != nil {
		return nil, err
	}
	return s.issuePair(ctx, client.ClientID, tok.UserID, tok.Scopes())
}

func (s *OAuthService) issuePair(ctx context.Context, clientID string, userID int64, scopes []string) (*TokenResult, error) {
	access, err := randomToken()
	if err != nil {
		return nil, err
	}
	refreshRaw, err := randomToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	refreshHash := store.HashSecret(refreshRaw)
	refreshExpiry := now.Add(RefreshTokenTTL)
	tok := &model.OAuthToken{
		TokenHash:        store.HashSecret(access),
		RefreshTokenHash: &refreshHash,
		ClientID:         clientID,
		UserID:           userID,
		IssuedAt:         now,
		ExpiresAt:        now.Add(AccessTokenTTL),
		RefreshExpiresAt: &refreshExpiry,
	}
	tok.SetScopes(scopes)

	if err := s.store.CreateOAuthToken(ctx, tok); err != nil {
		return nil, err
	}
	return &TokenResult{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
		RefreshToken: refreshRaw,
		Scopes:       scopes,
	}, nil
}

// Revoke marks the pair behind the presented token revoked. A refresh
// token takes every live pair its client holds for the user down with it.
// Unknown tokens succeed silently per RFC 7009.
func (s *OAuthService) Revoke(ctx context.Context, rawToken, clientIP string) error {
	hash := store.HashSecret(rawToken)

	if tok, err := s.store.GetOAuthTokenByHash(ctx, hash); err == nil {
		return s.store.RevokeOAuthToken(ctx, tok.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	tok, err := s.store.GetOAuthTokenByRefreshHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.RevokeOAuthToken(ctx, tok.ID); err != nil {
		return err
	}
	return s.store.RevokeOAuthTokensForUserClient(ctx, tok.UserID, tok.ClientID)
}

// UserInfo returns the scoped claims for the principal behind a valid
// token. Email requires the read scope.
func (s *OAuthService) UserInfo(ctx context.Context, rawToken, clientIP string) (map[string]any, error) {
	tok, err := s.store.GetOAuthTokenByHash(ctx, store.HashSecret(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.oauthFail(ctx, clientIP, "unknown_token",
				gateway.ErrUnauthenticated("unknown token"))
		}
		return nil, err
	}
	if tok.Revoked {
		return nil, s.oauthFail(ctx, clientIP, "token_revoked",
			gateway.ErrUnauthenticated("token revoked"))
	}
	if tok.Expired(s.now()) {
		return nil, s.oauthFail(ctx, clientIP, "token_expired",
			gateway.ErrUnauthenticated("token expired"))
	}

	u, err := s.store.GetUser(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.ErrUnauthenticated("token user missing")
		}
		return nil, err
	}

	scopes := tok.Scopes()
	claims := map[string]any{
		"sub":   fmt.Sprintf("%d", u.ID),
		"scope": scopes,
	}
	p := model.Principal{Scopes: scopes}
	if p.HasScope(model.ScopeRead) {
		claims["email"] = u.Email
		claims["name"] = u.Name
		claims["tier"] = u.Tier
	}
	return claims, nil
}

// RegisterClient creates a client application, returning the raw secret
// exactly once.
func (s *OAuthService) RegisterClient(ctx context.Context, name, redirectURI string, scopes []string) (*model.OAuthClient, string, error) {
	if redirectURI == "" {
		return nil, "", gateway.ErrValidation("Redirect URI is required")
	}
	if len(scopes) == 0 {
		scopes = model.DefaultScopes()
	}
	for _, sc := range scopes {
		if !model.ValidScope(sc) {
			return nil, "", gateway.ErrValidation("Unknown scope: " + sc)
		}
	}

	secret, err := randomToken()
	if err != nil {
		return nil, "", err
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, "", fmt.Errorf("generate client id: %w", err)
	}

	client := &model.OAuthClient{
		ClientID:    "client_" + hex.EncodeToString(id),
		SecretHash:  store.HashSecret(secret),
		Name:        name,
		RedirectURI: redirectURI,
		IsActive:    true,
	}
	client.SetScopes(scopes)

	if err := s.store.CreateOAuthClient(ctx, client); err != nil {
		return nil, "", err
	}
	return client, secret, nil
}

func (s *OAuthService) client(ctx context.Context, clientID string) (*model.OAuthClient, error) {
	client, err := s.store.GetOAuthClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.ErrValidation("Unknown client")
		}
		return nil, err
	}
	if !client.IsActive {
		return nil, gateway.ErrValidation("Client is disabled")
	}
	return client, nil
}

func randomToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
