package model

import (
	"strings"
	"time"
)

// OAuthClient is a registered OAuth2 application. The client secret is
// stored as a SHA-256 hash.
type OAuthClient struct {
	ID          int64     `json:"id" db:"id"`
	ClientID    string    `json:"client_id" db:"client_id"`
	SecretHash  string    `json:"-" db:"secret_hash"`
	Name        string    `json:"name" db:"name"`
	RedirectURI string    `json:"redirect_uri" db:"redirect_uri"`
	ScopesCSV   string    `json:"-" db:"scopes"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Scopes returns the scope set the client is registered for.
func (c *OAuthClient) Scopes() []string {
	return splitCSV(c.ScopesCSV)
}

// SetScopes stores the scope set in CSV form for persistence.
func (c *OAuthClient) SetScopes(scopes []string) {
	c.ScopesCSV = strings.Join(scopes, ",")
}

// AllowsScopes reports whether every requested scope is within the
// client's registration.
func (c *OAuthClient) AllowsScopes(requested []string) bool {
	granted := c.Scopes()
	for _, want := range requested {
		found := false
		for _, have := range granted {
			if want == have {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AuthCode is a short-lived, single-use authorization code issued by the
// authorize flow and exchanged in the token flow. Only its hash is stored;
// consumption is an atomic flip of the used flag.
type AuthCode struct {
	ID          int64     `json:"id" db:"id"`
	CodeHash    string    `json:"-" db:"code_hash"`
	ClientID    string    `json:"client_id" db:"client_id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	RedirectURI string    `json:"redirect_uri" db:"redirect_uri"`
	ScopesCSV   string    `json:"-" db:"scopes"`
	Used        bool      `json:"used" db:"used"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Scopes returns the scopes bound to the code.
func (a *AuthCode) Scopes() []string {
	return splitCSV(a.ScopesCSV)
}

// OAuthToken is an access/refresh token pair. Raw token values are random
// and never stored; both columns hold SHA-256 hashes. Revoking either half
// of the pair revokes the whole record.
type OAuthToken struct {
	ID               int64      `json:"id" db:"id"`
	TokenHash        string     `json:"-" db:"token_hash"`
	RefreshTokenHash *string    `json:"-" db:"refresh_token_hash"`
	ClientID         string     `json:"client_id" db:"client_id"`
	UserID           int64      `json:"user_id" db:"user_id"`
	ScopesCSV        string     `json:"-" db:"scopes"`
	Revoked          bool       `json:"revoked" db:"revoked"`
	IssuedAt         time.Time  `json:"issued_at" db:"issued_at"`
	ExpiresAt        time.Time  `json:"expires_at" db:"expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty" db:"refresh_expires_at"`
}

// Scopes returns the token's scope set.
func (t *OAuthToken) Scopes() []string {
	return splitCSV(t.ScopesCSV)
}

// SetScopes stores the scope set in CSV form for persistence.
func (t *OAuthToken) SetScopes(scopes []string) {
	t.ScopesCSV = strings.Join(scopes, ",")
}

// Expired reports whether the access token has expired at now.
func (t *OAuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshExpired reports whether the refresh half has expired at now.
func (t *OAuthToken) RefreshExpired(now time.Time) bool {
	return t.RefreshExpiresAt != nil && !now.Before(*t.RefreshExpiresAt)
}
