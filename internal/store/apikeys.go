package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/purrrlove/perch/internal/model"
)

// CreateAPIKey inserts a new API key record. KeyHash must already be set
// (use HashSecret on the raw key). ID and CreatedAt are populated on return.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	id, err := s.insertID(ctx, `INSERT INTO api_keys
		(user_id, name, key_hash, key_prefix, scopes, ip_allowlist, is_active, expires_at, created_at, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.ScopesCSV,
		key.IPAllowCSV, key.IsActive, key.ExpiresAt, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash. The hash column
// is unique, so a hash resolves to at most one key.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key, s.rebind("SELECT * FROM api_keys WHERE key_hash = ?"), hash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// GetAPIKey looks up an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key, s.rebind("SELECT * FROM api_keys WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeysForUser returns all of a user's keys, newest first, including
// revoked ones.
func (s *Store) ListAPIKeysForUser(ctx context.Context, userID int64) ([]model.APIKey, error) {
	var keys []model.APIKey
	err := s.db.SelectContext(ctx, &keys,
		s.rebind("SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC"), userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// UpdateAPIKey mutates a key's metadata. The hash is never touched.
func (s *Store) UpdateAPIKey(ctx context.Context, key *model.APIKey) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE api_keys
		SET name = ?, scopes = ?, ip_allowlist = ?, expires_at = ?
		WHERE id = ?`),
		key.Name, key.ScopesCSV, key.IPAllowCSV, key.ExpiresAt, key.ID)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireRow(res, "update api key")
}

// RevokeAPIKey marks a key inactive. Revoking an already-revoked key is a
// no-op; the record is never deleted.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_keys SET is_active = ? WHERE id = ?"), false, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return requireRow(res, "revoke api key")
}

// RecordAPIKeyUse stamps last_used_at and bumps usage_count. Called on the
// authentication hot path as fire-and-forget; a failure here must not fail
// the request.
func (s *Store) RecordAPIKeyUse(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE api_keys SET last_used_at = ?, usage_count = usage_count + 1 WHERE id = ?"),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record api key use: %w", err)
	}
	return nil
}

// CountAPIKeys returns the total number of key records.
func (s *Store) CountAPIKeys(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM api_keys"); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}
