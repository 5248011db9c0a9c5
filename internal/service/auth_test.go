package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/store"
)

// captureSink records events in memory for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	Type   string
	IP     string
	Detail map[string]any
}

func (c *captureSink) Record(_ context.Context, eventType, ip string, detail map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Type: eventType, IP: ip, Detail: detail})
}

func (c *captureSink) last(t *testing.T) capturedEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		t.Fatal("expected at least one recorded event")
	}
	return c.events[len(c.events)-1]
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type authFixture struct {
	store    *store.Store
	sessions *SessionService
	keys     *KeyService
	auth     *AuthService
	sink     *captureSink
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sink := &captureSink{}
	sessions := NewSessionService(st, "test-secret", time.Hour)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &authFixture{
		store:    st,
		sessions: sessions,
		keys:     NewKeyService(st),
		auth:     NewAuthService(st, sessions, sink, logger),
		sink:     sink,
	}
}

func (f *authFixture) createUser(t *testing.T, email, tier string, active bool) *model.User {
	t.Helper()
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		Tier:         tier,
		IsActive:     active,
	}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func requireAuthError(t *testing.T, err error, wantStatus int) *gateway.Error {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected gateway error, got %T: %v", err, err)
	}
	if ge.Status != wantStatus {
		t.Fatalf("got status %d, want %d (error: %v)", ge.Status, wantStatus, ge)
	}
	return ge
}

// ---------------------------------------------------------------------------
// API key authentication
// ---------------------------------------------------------------------------

func TestAuthenticateAPIKey(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "key@purrr.love", model.TierPremium, true)

	created, err := f.keys.Create(ctx, u.ID, CreateParams{
		Name:   "test key",
		Scopes: []string{model.ScopeRead, model.ScopeWrite},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	p, err := f.auth.Authenticate(ctx, Credentials{APIKey: created.RawSecret, ClientIP: "198.51.100.7"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Kind != model.KindAPIKey {
		t.Errorf("got kind %q, want %q", p.Kind, model.KindAPIKey)
	}
	if p.UserID != u.ID {
		t.Errorf("got user %d, want %d", p.UserID, u.ID)
	}
	if p.Tier != model.TierPremium {
		t.Errorf("got tier %q, want %q", p.Tier, model.TierPremium)
	}
	if p.KeyID != created.Key.ID {
		t.Errorf("got key ID %d, want %d", p.KeyID, created.Key.ID)
	}
	if !p.HasScope(model.ScopeWrite) || p.HasScope(model.ScopeAdmin) {
		t.Errorf("got scopes %v, want read+write only", p.Scopes)
	}
	if n := f.sink.count(); n != 0 {
		t.Errorf("success must not record events, got %d", n)
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Authenticate(context.Background(),
		Credentials{APIKey: "pl_deadbeef", ClientIP: "198.51.100.7"})
	requireAuthError(t, err, http.StatusUnauthorized)

	ev := f.sink.last(t)
	if ev.Type != model.EventAuthFailure {
		t.Errorf("got event type %q, want %q", ev.Type, model.EventAuthFailure)
	}
	if ev.Detail["reason_code"] != "unknown_key" {
		t.Errorf("got reason %v, want unknown_key", ev.Detail["reason_code"])
	}
	if ev.IP != "198.51.100.7" {
		t.Errorf("got IP %q, want 198.51.100.7", ev.IP)
	}
}

func TestAuthenticateRevokedKey(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "revoked@purrr.love", model.TierFree, true)

	created, err := f.keys.Create(ctx, u.ID, CreateParams{Name: "doomed"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.keys.Revoke(ctx, created.Key.ID, u.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	_, err = f.auth.Authenticate(ctx, Credentials{APIKey: created.RawSecret, ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "key_revoked" {
		t.Errorf("got reason %v, want key_revoked", got)
	}
}

func TestAuthenticateExpiredKey(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "expiry@purrr.love", model.TierFree, true)

	exp := time.Now().Add(time.Hour)
	created, err := f.keys.Create(ctx, u.ID, CreateParams{Name: "short lived", ExpiresAt: &exp})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Still valid just before expiry.
	f.auth.SetClock(func() time.Time { return exp.Add(-time.Minute) })
	if _, err := f.auth.Authenticate(ctx, Credentials{APIKey: created.RawSecret, ClientIP: "1.2.3.4"}); err != nil {
		t.Fatalf("Authenticate before expiry: %v", err)
	}

	// Dead at the boundary and beyond.
	f.auth.SetClock(func() time.Time { return exp })
	_, err = f.auth.Authenticate(ctx, Credentials{APIKey: created.RawSecret, ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "key_expired" {
		t.Errorf("got reason %v, want key_expired", got)
	}
}

func TestAuthenticateIPAllowlist(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "cidr@purrr.love", model.TierFree, true)

	created, err := f.keys.Create(ctx, u.ID, CreateParams{
		Name:        "office key",
		IPAllowlist: []string{"10.0.0.0/24", "192.0.2.50"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, ip := range []string{"10.0.0.5", "10.0.0.254", "192.0.2.50"} {
		if _, err := f.auth.Authenticate(ctx, Credentials{APIKey: created.RawSecret, ClientIP: ip}); err != nil {
			t.Errorf("ip %s: expected allow, got %v", ip, err)
		}
	}

	for _, ip := range []string{"10.0.1.1", "192.0.2.51", "not-an-ip"} {
		_, err := f.auth.Authenticate(ctx, Credentials{APIKey: created.RawSecret, ClientIP: ip})
		requireAuthError(t, err, http.StatusUnauthorized)
		if got := f.sink.last(t).Detail["reason_code"]; got != "ip_not_allowed" {
			t.Errorf("ip %s: got reason %v, want ip_not_allowed", ip, got)
		}
	}
}

func TestAuthenticateDisabledOwner(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "disabled@purrr.love", model.TierFree, true)

	created, err := f.keys.Create(ctx, u.ID, CreateParams{Name: "orphaned"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Disable the account after the key was issued.
	if err := f.store.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}

	_, err = f.auth.Authenticate(ctx, Credentials{APIKey: created.RawSecret, ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "owner_disabled" {
		t.Errorf("got reason %v, want owner_disabled", got)
	}
}

func TestAuthenticateNoCredentials(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Authenticate(context.Background(), Credentials{ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "no_credentials" {
		t.Errorf("got reason %v, want no_credentials", got)
	}
}

// ---------------------------------------------------------------------------
// Bearer authentication
// ---------------------------------------------------------------------------

func TestAuthenticateSessionToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "session@purrr.love", model.TierEnterprise, true)

	token, err := f.sessions.Issue(u)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	p, err := f.auth.Authenticate(ctx, Credentials{BearerToken: token, ClientIP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Kind != model.KindUserSession {
		t.Errorf("got kind %q, want %q", p.Kind, model.KindUserSession)
	}
	if p.Tier != model.TierEnterprise {
		t.Errorf("got tier %q, want %q", p.Tier, model.TierEnterprise)
	}
	if !p.HasScope(model.ScopeRead) || !p.HasScope(model.ScopeWrite) {
		t.Errorf("got scopes %v, want read+write", p.Scopes)
	}
	if p.HasScope(model.ScopeAdmin) {
		t.Error("sessions must never carry admin")
	}
}

func TestAuthenticateOAuthBearer(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "oauth@purrr.love", model.TierPremium, true)

	now := time.Now().UTC()
	tok := &model.OAuthToken{
		TokenHash: store.HashSecret("rawaccess"),
		ClientID:  "client_x",
		UserID:    u.ID,
		ScopesCSV: model.ScopeRead,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := f.store.CreateOAuthToken(ctx, tok); err != nil {
		t.Fatalf("CreateOAuthToken: %v", err)
	}

	p, err := f.auth.Authenticate(ctx, Credentials{BearerToken: "rawaccess", ClientIP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Kind != model.KindOAuthToken {
		t.Errorf("got kind %q, want %q", p.Kind, model.KindOAuthToken)
	}
	if p.ClientID != "client_x" {
		t.Errorf("got client %q, want client_x", p.ClientID)
	}

	// Revocation is visible on the next request.
	if err := f.store.RevokeOAuthToken(ctx, tok.ID); err != nil {
		t.Fatalf("RevokeOAuthToken: %v", err)
	}
	_, err = f.auth.Authenticate(ctx, Credentials{BearerToken: "rawaccess", ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "token_revoked" {
		t.Errorf("got reason %v, want token_revoked", got)
	}
}

func TestAuthenticateExpiredOAuthBearer(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	u := f.createUser(t, "stale@purrr.love", model.TierFree, true)

	now := time.Now().UTC()
	tok := &model.OAuthToken{
		TokenHash: store.HashSecret("staleaccess"),
		ClientID:  "client_x",
		UserID:    u.ID,
		ScopesCSV: model.ScopeRead,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := f.store.CreateOAuthToken(ctx, tok); err != nil {
		t.Fatalf("CreateOAuthToken: %v", err)
	}

	f.auth.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	_, err := f.auth.Authenticate(ctx, Credentials{BearerToken: "staleaccess", ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "token_expired" {
		t.Errorf("got reason %v, want token_expired", got)
	}
}

func TestAuthenticateUnknownBearer(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Authenticate(context.Background(),
		Credentials{BearerToken: "garbage", ClientIP: "1.2.3.4"})
	requireAuthError(t, err, http.StatusUnauthorized)
	if got := f.sink.last(t).Detail["reason_code"]; got != "unknown_token" {
		t.Errorf("got reason %v, want unknown_token", got)
	}
	if got := f.sink.last(t).Detail["credential_kind"]; got != "bearer" {
		t.Errorf("got kind %v, want bearer", got)
	}
}

// ---------------------------------------------------------------------------
// Allowlist validation
// ---------------------------------------------------------------------------

func TestValidateAllowlist(t *testing.T) {
	valid := [][]string{
		nil,
		{"10.0.0.1"},
		{"10.0.0.0/24", "2001:db8::/32"},
		{"2001:db8::1"},
	}
	for _, entries := range valid {
		if err := ValidateAllowlist(entries); err != nil {
			t.Errorf("entries %v: expected valid, got %v", entries, err)
		}
	}

	invalid := [][]string{
		{""},
		{"not-an-ip"},
		{"10.0.0.0/33"},
		{"10.0.0.1", "banana/8"},
	}
	for _, entries := range invalid {
		if err := ValidateAllowlist(entries); err == nil {
			t.Errorf("entries %v: expected error", entries)
		}
	}
}

func TestIPAllowed(t *testing.T) {
	allow := []string{"10.0.0.0/24", "192.0.2.50"}
	cases := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.0.0.255", true},
		{"10.0.1.1", false},
		{"192.0.2.50", true},
		{"192.0.2.49", false},
		{"", false},
		{"garbage", false},
	}
	for _, c := range cases {
		if got := ipAllowed(c.ip, allow); got != c.want {
			t.Errorf("ipAllowed(%q) = %v, want %v", c.ip, got, c.want)
		}
	}

	if ipAllowed("1.2.3.4", nil) {
		t.Error("empty allowlist handled by caller; helper itself must not match")
	}
}
