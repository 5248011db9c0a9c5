package service

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/store"
)

type oauthFixture struct {
	*authFixture
	oauth  *OAuthService
	client *model.OAuthClient
	secret string
	user   *model.User
}

func newOAuthFixture(t *testing.T) *oauthFixture {
	t.Helper()
	base := newAuthFixture(t)
	oauth := NewOAuthService(base.store, base.sink)

	client, secret, err := oauth.RegisterClient(context.Background(),
		"Pet Dashboard", "https://app.purrr.love/callback",
		[]string{model.ScopeRead, model.ScopeWrite})
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	user := base.createUser(t, "pets@purrr.love", model.TierPremium, true)

	return &oauthFixture{
		authFixture: base,
		oauth:       oauth,
		client:      client,
		secret:      secret,
		user:        user,
	}
}

// authorize runs the approve path and returns the raw code.
func (f *oauthFixture) authorize(t *testing.T, scopes []string) string {
	t.Helper()
	res, err := f.oauth.Authorize(context.Background(), AuthorizeParams{
		ClientID:    f.client.ClientID,
		RedirectURI: f.client.RedirectURI,
		Scopes:      scopes,
		UserID:      f.user.ID,
		Approved:    true,
		ClientIP:    "1.2.3.4",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	return res.Code
}

func (f *oauthFixture) exchange(t *testing.T, code string) *TokenResult {
	t.Helper()
	res, err := f.oauth.Token(context.Background(), TokenParams{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     f.client.ClientID,
		ClientSecret: f.secret,
		RedirectURI:  f.client.RedirectURI,
		ClientIP:     "1.2.3.4",
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	return res
}

// ---------------------------------------------------------------------------
// Client registration
// ---------------------------------------------------------------------------

func TestRegisterClient(t *testing.T) {
	f := newOAuthFixture(t)

	if !strings.HasPrefix(f.client.ClientID, "client_") {
		t.Errorf("got client_id %q, want client_ prefix", f.client.ClientID)
	}
	if f.client.SecretHash != store.HashSecret(f.secret) {
		t.Error("stored hash must match the raw secret")
	}
	if !f.client.IsActive {
		t.Error("new client must be active")
	}

	_, _, err := f.oauth.RegisterClient(context.Background(), "broken", "", nil)
	requireAuthError(t, err, http.StatusBadRequest)
	_, _, err = f.oauth.RegisterClient(context.Background(), "broken",
		"https://x.example/cb", []string{"bogus"})
	requireAuthError(t, err, http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// Authorize
// ---------------------------------------------------------------------------

func TestAuthorizeValidation(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	// Unknown client.
	_, err := f.oauth.Authorize(ctx, AuthorizeParams{
		ClientID: "client_unknown", RedirectURI: f.client.RedirectURI,
		UserID: f.user.ID, Approved: true,
	})
	requireAuthError(t, err, http.StatusBadRequest)

	// Redirect URI must match the registration exactly.
	_, err = f.oauth.Authorize(ctx, AuthorizeParams{
		ClientID: f.client.ClientID, RedirectURI: "https://evil.example/cb",
		UserID: f.user.ID, Approved: true,
	})
	requireAuthError(t, err, http.StatusBadRequest)
	if got := f.sink.last(t).Detail["reason_code"]; got != "redirect_mismatch" {
		t.Errorf("got reason %v, want redirect_mismatch", got)
	}

	// Scope beyond the client's registration.
	_, err = f.oauth.Authorize(ctx, AuthorizeParams{
		ClientID: f.client.ClientID, RedirectURI: f.client.RedirectURI,
		Scopes: []string{model.ScopeAdmin}, UserID: f.user.ID, Approved: true,
	})
	requireAuthError(t, err, http.StatusForbidden)

	// User said no.
	_, err = f.oauth.Authorize(ctx, AuthorizeParams{
		ClientID: f.client.ClientID, RedirectURI: f.client.RedirectURI,
		UserID: f.user.ID, Approved: false,
	})
	requireAuthError(t, err, http.StatusForbidden)
	if got := f.sink.last(t).Detail["reason_code"]; got != "user_denied" {
		t.Errorf("got reason %v, want user_denied", got)
	}
}

// ---------------------------------------------------------------------------
// Token exchange
// ---------------------------------------------------------------------------

func TestAuthorizeAndExchange(t *testing.T) {
	f := newOAuthFixture(t)
	code := f.authorize(t, []string{model.ScopeRead, model.ScopeWrite})

	res := f.exchange(t, code)
	if res.TokenType != "bearer" {
		t.Errorf("got token_type %q, want bearer", res.TokenType)
	}
	if res.ExpiresIn != 3600 {
		t.Errorf("got expires_in %d, want 3600", res.ExpiresIn)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected both halves of the pair")
	}
	if res.AccessToken == res.RefreshToken {
		t.Error("access and refresh tokens must differ")
	}
	if len(res.Scopes) != 2 {
		t.Errorf("got scopes %v, want the authorized pair", res.Scopes)
	}

	// The issued access token authenticates as an oauth_token principal.
	p, err := f.auth.Authenticate(context.Background(),
		Credentials{BearerToken: res.AccessToken, ClientIP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Kind != model.KindOAuthToken || p.UserID != f.user.ID {
		t.Errorf("got principal %+v, want oauth_token for user %d", p, f.user.ID)
	}
}

func TestCodeReuseDenied(t *testing.T) {
	f := newOAuthFixture(t)
	code := f.authorize(t, []string{model.ScopeRead})
	f.exchange(t, code)

	_, err := f.oauth.Token(context.Background(), TokenParams{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     f.client.ClientID,
		ClientSecret: f.secret,
		RedirectURI:  f.client.RedirectURI,
		ClientIP:     "1.2.3.4",
	})
	ge := requireAuthError(t, err, http.StatusBadRequest)
	if ge.Code != gateway.CodeValidation {
		t.Errorf("got code %q, want %q", ge.Code, gateway.CodeValidation)
	}
	if got := f.sink.last(t).Detail["reason_code"]; got != "code_reused" {
		t.Errorf("got reason %v, want code_reused", got)
	}
}

func TestExchangeValidation(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	// Wrong client secret never reaches the code.
	code := f.authorize(t, []string{model.ScopeRead})
	_, err := f.oauth.Token(ctx, TokenParams{
		GrantType: "authorization_code", Code: code,
		ClientID: f.client.ClientID, ClientSecret: "wrong",
		RedirectURI: f.client.RedirectURI,
	})
	requireAuthError(t, err, http.StatusUnauthorized)

	// Redirect URI must match the one bound to the code.
	_, err = f.oauth.Token(ctx, TokenParams{
		GrantType: "authorization_code", Code: code,
		ClientID: f.client.ClientID, ClientSecret: f.secret,
		RedirectURI: "https://evil.example/cb",
	})
	requireAuthError(t, err, http.StatusBadRequest)

	// Unknown code.
	_, err = f.oauth.Token(ctx, TokenParams{
		GrantType: "authorization_code", Code: "nonsense",
		ClientID: f.client.ClientID, ClientSecret: f.secret,
		RedirectURI: f.client.RedirectURI,
	})
	requireAuthError(t, err, http.StatusBadRequest)

	// Unsupported grant type.
	_, err = f.oauth.Token(ctx, TokenParams{
		GrantType: "password",
		ClientID:  f.client.ClientID, ClientSecret: f.secret,
	})
	requireAuthError(t, err, http.StatusBadRequest)
}

func TestCodeExpiry(t *testing.T) {
	f := newOAuthFixture(t)
	code := f.authorize(t, []string{model.ScopeRead})

	f.oauth.SetClock(func() time.Time { return time.Now().Add(AuthCodeTTL + time.Minute) })
	_, err := f.oauth.Token(context.Background(), TokenParams{
		GrantType: "authorization_code", Code: code,
		ClientID: f.client.ClientID, ClientSecret: f.secret,
		RedirectURI: f.client.RedirectURI,
	})
	requireAuthError(t, err, http.StatusBadRequest)
	if got := f.sink.last(t).Detail["reason_code"]; got != "code_expired" {
		t.Errorf("got reason %v, want code_expired", got)
	}
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestRefreshRotation(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()
	first := f.exchange(t, f.authorize(t, []string{model.ScopeRead}))

	second, err := f.oauth.Token(ctx, TokenParams{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     f.client.ClientID,
		ClientSecret: f.secret,
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.AccessToken == first.AccessToken {
		t.Error("refresh must mint a new access token")
	}

	// The old pair is dead: its access token no longer authenticates and
	// its refresh token cannot be replayed.
	_, err = f.auth.Authenticate(ctx, Credentials{BearerToken: first.AccessToken, ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)

	_, err = f.oauth.Token(ctx, TokenParams{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     f.client.ClientID,
		ClientSecret: f.secret,
	})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "refresh_token_revoked" {
		t.Errorf("got reason %v, want refresh_token_revoked", got)
	}

	// The new pair works.
	if _, err := f.auth.Authenticate(ctx, Credentials{BearerToken: second.AccessToken, ClientIP: "1.2.3.4"}); err != nil {
		t.Fatalf("Authenticate with rotated token: %v", err)
	}
}

func TestRefreshExpiry(t *testing.T) {
	f := newOAuthFixture(t)
	pair := f.exchange(t, f.authorize(t, []string{model.ScopeRead}))

	f.oauth.SetClock(func() time.Time { return time.Now().Add(RefreshTokenTTL + time.Hour) })
	_, err := f.oauth.Token(context.Background(), TokenParams{
		GrantType:    "refresh_token",
		RefreshToken: pair.RefreshToken,
		ClientID:     f.client.ClientID,
		ClientSecret: f.secret,
	})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "refresh_token_expired" {
		t.Errorf("got reason %v, want refresh_token_expired", got)
	}
}

// ---------------------------------------------------------------------------
// Revoke
// ---------------------------------------------------------------------------

func TestRevokeAccessToken(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()
	pair := f.exchange(t, f.authorize(t, []string{model.ScopeRead}))

	if err := f.oauth.Revoke(ctx, pair.AccessToken, "1.2.3.4"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	_, err := f.auth.Authenticate(ctx, Credentials{BearerToken: pair.AccessToken, ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)
}

func TestRevokeRefreshTokenSweepsPairs(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	// Two live pairs for the same user and client.
	first := f.exchange(t, f.authorize(t, []string{model.ScopeRead}))
	second := f.exchange(t, f.authorize(t, []string{model.ScopeRead}))

	// Revoking by refresh token takes both down.
	if err := f.oauth.Revoke(ctx, first.RefreshToken, "1.2.3.4"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	for _, access := range []string{first.AccessToken, second.AccessToken} {
		_, err := f.auth.Authenticate(ctx, Credentials{BearerToken: access, ClientIP: "1.2.3.4"})
		requireAuthError(t, err, http.StatusUnauthorized)
	}
}

func TestRevokeUnknownTokenSucceeds(t *testing.T) {
	f := newOAuthFixture(t)
	if err := f.oauth.Revoke(context.Background(), "never-issued", "1.2.3.4"); err != nil {
		t.Errorf("unknown token revoke must succeed silently, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// UserInfo
// ---------------------------------------------------------------------------

func TestUserInfoScoping(t *testing.T) {
	f := newOAuthFixture(t)
	ctx := context.Background()

	full := f.exchange(t, f.authorize(t, []string{model.ScopeRead}))
	claims, err := f.oauth.UserInfo(ctx, full.AccessToken, "1.2.3.4")
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if claims["email"] != f.user.Email {
		t.Errorf("got email %v, want %q", claims["email"], f.user.Email)
	}
	if claims["tier"] != model.TierPremium {
		t.Errorf("got tier %v, want premium", claims["tier"])
	}

	// Without the read scope only the subject is exposed.
	writeOnly := f.exchange(t, f.authorize(t, []string{model.ScopeWrite}))
	claims, err = f.oauth.UserInfo(ctx, writeOnly.AccessToken, "1.2.3.4")
	if err != nil {
		t.Fatalf("UserInfo write-only: %v", err)
	}
	if _, ok := claims["email"]; ok {
		t.Error("email must require the read scope")
	}
	if claims["sub"] == "" {
		t.Error("sub must always be present")
	}

	// Revoked token gets a 401.
	if err := f.oauth.Revoke(ctx, full.AccessToken, "1.2.3.4"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	_, err = f.oauth.UserInfo(ctx, full.AccessToken, "1.2.3.4")
	requireAuthError(t, err, http.StatusUnauthorized)
}
