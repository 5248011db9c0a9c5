package model

import "time"

// SecurityEvent types recorded by the gateway. Every authentication or
// authorization failure and every rate-limit denial produces exactly one.
const (
	EventAuthFailure      = "auth_failure"
	EventForbidden        = "forbidden"
	EventRateLimited      = "rate_limit_exceeded"
	EventCORSViolation    = "unauthorized_cors_attempt"
	EventOAuthFailure     = "oauth_failure"
	EventStoreUnavailable = "store_unavailable"
)

// SecurityEvent is an append-only audit record. Detail must never contain a
// raw credential; sinks additionally redact well-known sensitive keys before
// writing.
type SecurityEvent struct {
	ID        int64          `json:"id,omitempty" db:"id"`
	Type      string         `json:"type" db:"type"`
	Detail    map[string]any `json:"detail,omitempty" db:"-"`
	DetailRaw string         `json:"-" db:"detail"`
	IP        string         `json:"ip" db:"ip"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
