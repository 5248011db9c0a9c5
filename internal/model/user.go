package model

import "time"

// Rate-limit tiers. Limits per window are configured in ratelimit.Tiers;
// the user record only carries the tier name.
const (
	TierFree       = "free"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
	TierAnonymous  = "anonymous"
)

// ValidTier returns true if t is a recognized rate-limit tier for a user
// account. Anonymous is reserved for unauthenticated IP buckets.
func ValidTier(t string) bool {
	switch t {
	case TierFree, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// User is a platform account. Passwords are stored as bcrypt hashes. The
// gateway only reads identity, tier, and session credentials; profile data
// beyond that belongs to the platform.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Name         string     `json:"name" db:"name"`
	Tier         string     `json:"tier" db:"tier"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
