package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/store"
)

// KeyPrefix marks every raw key the platform issues. The stored display
// prefix is the marker plus the first hex characters, enough to identify a
// key without being reversible.
const (
	rawKeyMarker     = "pl_"
	rawKeyBytes      = 32
	displayPrefixLen = 11 // "pl_" + 8 hex chars
)

// KeyService owns the API key lifecycle. Every operation is scoped to the
// calling owner: a key id belonging to someone else fails Forbidden, never
// NotFound, after the ownership check.
type KeyService struct {
	store *store.Store
	now   func() time.Time
}

// NewKeyService builds the lifecycle manager.
func NewKeyService(st *store.Store) *KeyService {
	return &KeyService{store: st, now: time.Now}
}

// SetClock overrides the service's time source. Tests only.
func (s *KeyService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateParams are the caller-supplied fields for a new key.
type CreateParams struct {
	Name        string
	Scopes      []string
	ExpiresAt   *time.Time
	IPAllowlist []string
}

// CreatedKey pairs the stored record with the raw secret. The raw value
// exists only in this return value; it is never persisted and cannot be
// retrieved again.
type CreatedKey struct {
	Key       *model.APIKey
	RawSecret string
}

// Create generates a cryptographically random key for the owner, stores
// its hash, and returns the raw secret exactly once.
func (s *KeyService) Create(ctx context.Context, ownerID int64, p CreateParams) (*CreatedKey, error) {
	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = model.DefaultScopes()
	}
	for _, sc := range scopes {
		if !model.ValidScope(sc) {
			return nil, gateway.ErrValidation("Unknown scope: " + sc)
		}
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(s.now()) {
		return nil, gateway.ErrValidation("Expiry must be in the future")
	}
	if err := ValidateAllowlist(p.IPAllowlist); err != nil {
		return nil, err
	}

	raw := make([]byte, rawKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate key secret: %w", err)
	}
	rawKey := rawKeyMarker + hex.EncodeToString(raw)

	key := &model.APIKey{
		UserID:    ownerID,
		Name:      p.Name,
		KeyHash:   store.HashSecret(rawKey),
		KeyPrefix: rawKey[:displayPrefixLen],
		ExpiresAt: p.ExpiresAt,
		IsActive:  true,
	}
	key.SetScopes(scopes)
	key.SetIPAllowlist(p.IPAllowlist)

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return &CreatedKey{Key: key, RawSecret: rawKey}, nil
}

// UpdateParams is a patch for key metadata. Nil fields are left untouched;
// the secret hash can never be changed.
type UpdateParams struct {
	Name        *string
	Scopes      []string
	ExpiresAt   *time.Time
	ClearExpiry bool
	IPAllowlist []string
}

// Update patches a key the owner holds.
func (s *KeyService) Update(ctx context.Context, keyID, ownerID int64, p UpdateParams) (*model.APIKey, error) {
	key, err := s.ownedKey(ctx, keyID, ownerID)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		key.Name = *p.Name
	}
	if p.Scopes != nil {
		for _, sc := range p.Scopes {
			if !model.ValidScope(sc) {
				return nil, gateway.ErrValidation("Unknown scope: " + sc)
			}
		}
		key.SetScopes(p.Scopes)
	}
	if p.ClearExpiry {
		key.ExpiresAt = nil
	} else if p.ExpiresAt != nil {
		if !p.ExpiresAt.After(s.now()) {
			return nil, gateway.ErrValidation("Expiry must be in the future")
		}
		key.ExpiresAt = p.ExpiresAt
	}
	if p.IPAllowlist != nil {
		if err := ValidateAllowlist(p.IPAllowlist); err != nil {
			return nil, err
		}
		key.SetIPAllowlist(p.IPAllowlist)
	}

	if err := s.store.UpdateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Revoke soft-deletes a key the owner holds. Revoking an already-revoked
// key succeeds silently.
func (s *KeyService) Revoke(ctx context.Context, keyID, ownerID int64) error {
	key, err := s.ownedKey(ctx, keyID, ownerID)
	if err != nil {
		return err
	}
	if !key.IsActive {
		return nil
	}
	return s.store.RevokeAPIKey(ctx, key.ID)
}

// ListForOwner returns the owner's keys as display projections.
func (s *KeyService) ListForOwner(ctx context.Context, ownerID int64) ([]KeyView, error) {
	keys, err := s.store.ListAPIKeysForUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]KeyView, len(keys))
	for i := range keys {
		views[i] = viewOf(&keys[i])
	}
	return views, nil
}

// UsageStats returns the usage projection for one owned key.
func (s *KeyService) UsageStats(ctx context.Context, keyID, ownerID int64) (*UsageView, error) {
	key, err := s.ownedKey(ctx, keyID, ownerID)
	if err != nil {
		return nil, err
	}
	return &UsageView{
		KeyID:      key.ID,
		KeyPrefix:  key.KeyPrefix,
		UsageCount: key.UsageCount,
		LastUsedAt: key.LastUsedAt,
		CreatedAt:  key.CreatedAt,
		IsActive:   key.IsActive,
	}, nil
}

// ownedKey loads a key and enforces ownership.
func (s *KeyService) ownedKey(ctx context.Context, keyID, ownerID int64) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.ErrNotFound("API key")
		}
		return nil, err
	}
	if key.UserID != ownerID {
		return nil, gateway.ErrForbidden("key owned by another user")
	}
	return key, nil
}

// KeyView is the owner-facing projection of a key. It never carries the
// hash; the prefix is the only identifying fragment.
type KeyView struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"key_prefix"`
	Scopes      []string   `json:"scopes"`
	IPAllowlist []string   `json:"ip_allowlist,omitempty"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
}

// UsageView is the usage-stats projection.
type UsageView struct {
	KeyID      int64      `json:"key_id"`
	KeyPrefix  string     `json:"key_prefix"`
	UsageCount int64      `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	IsActive   bool       `json:"is_active"`
}

func viewOf(k *model.APIKey) KeyView {
	return KeyView{
		ID:          k.ID,
		Name:        k.Name,
		KeyPrefix:   k.KeyPrefix,
		Scopes:      k.Scopes(),
		IPAllowlist: k.IPAllowlist(),
		IsActive:    k.IsActive,
		ExpiresAt:   k.ExpiresAt,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
		UsageCount:  k.UsageCount,
	}
}
