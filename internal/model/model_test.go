package model

import (
	"testing"
	"time"
)

func TestHasScope(t *testing.T) {
	p := &Principal{Scopes: []string{ScopeRead}}
	if !p.HasScope(ScopeRead) {
		t.Error("expected read")
	}
	if p.HasScope(ScopeWrite) {
		t.Error("read-only principal must not have write")
	}

	// Admin implies everything.
	admin := &Principal{Scopes: []string{ScopeAdmin}}
	for _, sc := range []string{ScopeRead, ScopeWrite, ScopeAdmin, ScopeClient} {
		if !admin.HasScope(sc) {
			t.Errorf("admin must imply %s", sc)
		}
	}

	empty := &Principal{}
	if empty.HasScope(ScopeRead) {
		t.Error("no scopes means no access")
	}
}

func TestRateKey(t *testing.T) {
	p := &Principal{UserID: 42}
	if got := p.RateKey(); got != "user:42" {
		t.Errorf("got %q, want user:42", got)
	}

	// Same user through different credentials shares a bucket.
	key := &Principal{UserID: 42, Kind: KindAPIKey}
	session := &Principal{UserID: 42, Kind: KindUserSession}
	if key.RateKey() != session.RateKey() {
		t.Error("credential kinds must share the user bucket")
	}
}

func TestValidScope(t *testing.T) {
	for _, sc := range []string{ScopeRead, ScopeWrite, ScopeAdmin, ScopeClient} {
		if !ValidScope(sc) {
			t.Errorf("%s must be valid", sc)
		}
	}
	for _, sc := range []string{"", "root", "READ"} {
		if ValidScope(sc) {
			t.Errorf("%q must be invalid", sc)
		}
	}
}

func TestValidTier(t *testing.T) {
	for _, tier := range []string{TierFree, TierPremium, TierEnterprise} {
		if !ValidTier(tier) {
			t.Errorf("%s must be valid", tier)
		}
	}
	// Anonymous is a rate bucket, not an account tier.
	if ValidTier(TierAnonymous) {
		t.Error("anonymous must not be assignable to accounts")
	}
	if ValidTier("platinum") {
		t.Error("unknown tier must be invalid")
	}
}

func TestAPIKeyCSVRoundTrip(t *testing.T) {
	k := &APIKey{}
	k.SetScopes([]string{"read", "write"})
	if k.ScopesCSV != "read,write" {
		t.Errorf("got csv %q, want read,write", k.ScopesCSV)
	}
	if sc := k.Scopes(); len(sc) != 2 || sc[0] != "read" || sc[1] != "write" {
		t.Errorf("got %v, want [read write]", sc)
	}

	// Whitespace and empty entries are dropped on read.
	k.ScopesCSV = " read , ,write,"
	if sc := k.Scopes(); len(sc) != 2 || sc[0] != "read" || sc[1] != "write" {
		t.Errorf("got %v, want [read write]", sc)
	}

	k.ScopesCSV = ""
	if sc := k.Scopes(); sc != nil {
		t.Errorf("got %v, want nil for empty csv", sc)
	}

	k.SetIPAllowlist([]string{"10.0.0.0/24"})
	if ips := k.IPAllowlist(); len(ips) != 1 || ips[0] != "10.0.0.0/24" {
		t.Errorf("got %v, want [10.0.0.0/24]", ips)
	}
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	k := &APIKey{}
	if k.Expired(now) {
		t.Error("no expiry means never expired")
	}

	exp := now.Add(time.Hour)
	k.ExpiresAt = &exp
	if k.Expired(now) {
		t.Error("future expiry: not expired")
	}
	if !k.Expired(exp) {
		t.Error("expiry instant counts as expired")
	}
	if !k.Expired(exp.Add(time.Second)) {
		t.Error("past expiry: expired")
	}
}

func TestOAuthClientAllowsScopes(t *testing.T) {
	c := &OAuthClient{}
	c.SetScopes([]string{ScopeRead, ScopeWrite})

	if !c.AllowsScopes([]string{ScopeRead}) {
		t.Error("subset must be allowed")
	}
	if !c.AllowsScopes([]string{ScopeRead, ScopeWrite}) {
		t.Error("exact set must be allowed")
	}
	if !c.AllowsScopes(nil) {
		t.Error("empty request must be allowed")
	}
	if c.AllowsScopes([]string{ScopeRead, ScopeAdmin}) {
		t.Error("superset must be rejected")
	}
}

func TestOAuthTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	refreshExp := now.Add(24 * time.Hour)
	tok := &OAuthToken{
		ExpiresAt:        now.Add(time.Hour),
		RefreshExpiresAt: &refreshExp,
	}

	if tok.Expired(now) {
		t.Error("fresh access token: not expired")
	}
	if !tok.Expired(now.Add(time.Hour)) {
		t.Error("access boundary counts as expired")
	}
	if tok.RefreshExpired(now.Add(2 * time.Hour)) {
		t.Error("refresh half outlives the access half")
	}
	if !tok.RefreshExpired(refreshExp) {
		t.Error("refresh boundary counts as expired")
	}

	noRefresh := &OAuthToken{ExpiresAt: now.Add(time.Hour)}
	if noRefresh.RefreshExpired(now.Add(100 * 24 * time.Hour)) {
		t.Error("missing refresh expiry never expires")
	}
}
