package model

import "strconv"

// PrincipalKind identifies which credential type a request authenticated with.
type PrincipalKind string

const (
	KindUserSession PrincipalKind = "user_session"
	KindAPIKey      PrincipalKind = "api_key"
	KindOAuthToken  PrincipalKind = "oauth_token"
)

// Principal is the resolved identity of an authenticated request. It is
// built fresh per request by the authenticator and never persisted.
type Principal struct {
	UserID int64         `json:"user_id"`
	Kind   PrincipalKind `json:"kind"`
	Scopes []string      `json:"scopes"`
	Tier   string        `json:"tier"`

	// KeyID is set only for api_key principals, ClientID only for
	// oauth_token principals.
	KeyID    int64  `json:"key_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// HasScope reports whether the principal was granted the named scope.
// The admin scope implies every other scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// RateKey returns the rate-limit bucket key for the principal. Distinct
// credential kinds for the same user share one bucket.
func (p *Principal) RateKey() string {
	return "user:" + strconv.FormatInt(p.UserID, 10)
}

// Recognized scopes, matching what clients and keys can be granted.
const (
	ScopeRead   = "read"
	ScopeWrite  = "write"
	ScopeAdmin  = "admin"
	ScopeClient = "client"
)

// ValidScope returns true if s is a recognized scope name.
func ValidScope(s string) bool {
	switch s {
	case ScopeRead, ScopeWrite, ScopeAdmin, ScopeClient:
		return true
	}
	return false
}

// DefaultScopes are applied when a key is created without any.
func DefaultScopes() []string {
	return []string{ScopeRead}
}
