package model

import (
	"strings"
	"time"
)

// APIKey is a long-lived credential a user issues to themselves. The raw key
// is never stored; only a SHA-256 hash and a short prefix for identification
// are persisted. Revoked keys are kept (is_active=0) for auditability.
type APIKey struct {
	ID         int64      `json:"id" db:"id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // first chars for identification
	ScopesCSV  string     `json:"-" db:"scopes"`
	IPAllowCSV string     `json:"-" db:"ip_allowlist"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	UsageCount int64      `json:"usage_count" db:"usage_count"`
}

// Scopes returns the key's scope set.
func (k *APIKey) Scopes() []string {
	return splitCSV(k.ScopesCSV)
}

// SetScopes stores the scope set in CSV form for persistence.
func (k *APIKey) SetScopes(scopes []string) {
	k.ScopesCSV = strings.Join(scopes, ",")
}

// IPAllowlist returns the key's IP restriction entries. Empty means the key
// is usable from any address.
func (k *APIKey) IPAllowlist() []string {
	return splitCSV(k.IPAllowCSV)
}

// SetIPAllowlist stores the allowlist in CSV form for persistence.
func (k *APIKey) SetIPAllowlist(entries []string) {
	k.IPAllowCSV = strings.Join(entries, ",")
}

// Expired reports whether the key's expiry, if any, has passed at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
