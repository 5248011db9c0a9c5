package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/purrrlove/perch/internal/model"
)

// ---------------------------------------------------------------------------
// OAuth2 clients
// ---------------------------------------------------------------------------

// CreateOAuthClient registers a new client application.
func (s *Store) CreateOAuthClient(ctx context.Context, c *model.OAuthClient) error {
	c.CreatedAt = time.Now().UTC()

	id, err := s.insertID(ctx, `INSERT INTO oauth_clients
		(client_id, secret_hash, name, redirect_uri, scopes, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.SecretHash, c.Name, c.RedirectURI, c.ScopesCSV, c.IsActive, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert oauth client: %w", err)
	}
	c.ID = id
	return nil
}

// GetOAuthClient looks up a client by its public client_id.
func (s *Store) GetOAuthClient(ctx context.Context, clientID string) (*model.OAuthClient, error) {
	var c model.OAuthClient
	err := s.db.GetContext(ctx, &c, s.rebind("SELECT * FROM oauth_clients WHERE client_id = ?"), clientID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth client: %w", err)
	}
	return &c, nil
}

// ListOAuthClients returns all registered clients.
func (s *Store) ListOAuthClients(ctx context.Context) ([]model.OAuthClient, error) {
	var cs []model.OAuthClient
	err := s.db.SelectContext(ctx, &cs, "SELECT * FROM oauth_clients ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list oauth clients: %w", err)
	}
	return cs, nil
}

// ---------------------------------------------------------------------------
// Authorization codes
// ---------------------------------------------------------------------------

// CreateAuthCode persists a new authorization code hash.
func (s *Store) CreateAuthCode(ctx context.Context, code *model.AuthCode) error {
	code.CreatedAt = time.Now().UTC()

	id, err := s.insertID(ctx, `INSERT INTO oauth_codes
		(code_hash, client_id, user_id, redirect_uri, scopes, used, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		code.CodeHash, code.ClientID, code.UserID, code.RedirectURI,
		code.ScopesCSV, false, code.ExpiresAt, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert auth code: %w", err)
	}
	code.ID = id
	return nil
}

// ConsumeAuthCode atomically marks the code used and returns it. A second
// consumption of the same code fails with ErrCodeUsed regardless of
// interleaving; the used flag flips in a single UPDATE.
func (s *Store) ConsumeAuthCode(ctx context.Context, codeHash string) (*model.AuthCode, error) {
	var code model.AuthCode
	err := s.db.GetContext(ctx, &code, s.rebind("SELECT * FROM oauth_codes WHERE code_hash = ?"), codeHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auth code: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE oauth_codes SET used = ? WHERE code_hash = ? AND used = ?"),
		true, codeHash, false)
	if err != nil {
		return nil, fmt.Errorf("consume auth code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("consume auth code rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrCodeUsed
	}
	return &code, nil
}

// ---------------------------------------------------------------------------
// Token pairs
// ---------------------------------------------------------------------------

// CreateOAuthToken persists a new access/refresh pair (hashes only).
func (s *Store) CreateOAuthToken(ctx context.Context, t *model.OAuthToken) error {
	id, err := s.insertID(ctx, `INSERT INTO oauth_tokens
		(token_hash, refresh_token_hash, client_id, user_id, scopes, revoked, issued_at, expires_at, refresh_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TokenHash, t.RefreshTokenHash, t.ClientID, t.UserID, t.ScopesCSV,
		false, t.IssuedAt, t.ExpiresAt, t.RefreshExpiresAt)
	if err != nil {
		return fmt.Errorf("insert oauth token: %w", err)
	}
	t.ID = id
	return nil
}

// GetOAuthTokenByHash looks up a pair by its access-token hash.
func (s *Store) GetOAuthTokenByHash(ctx context.Context, hash string) (*model.OAuthToken, error) {
	var t model.OAuthToken
	err := s.db.GetContext(ctx, &t, s.rebind("SELECT * FROM oauth_tokens WHERE token_hash = ?"), hash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token: %w", err)
	}
	return &t, nil
}

// GetOAuthTokenByRefreshHash looks up a pair by its refresh-token hash.
func (s *Store) GetOAuthTokenByRefreshHash(ctx context.Context, hash string) (*model.OAuthToken, error) {
	var t model.OAuthToken
	err := s.db.GetContext(ctx, &t, s.rebind("SELECT * FROM oauth_tokens WHERE refresh_token_hash = ?"), hash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token by refresh: %w", err)
	}
	return &t, nil
}

// RevokeOAuthToken marks the pair revoked. Idempotent; revocation is
// immediately visible to the authenticator because validation always reads
// the row.
func (s *Store) RevokeOAuthToken(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE oauth_tokens SET revoked = ? WHERE id = ?"), true, id)
	if err != nil {
		return fmt.Errorf("revoke oauth token: %w", err)
	}
	return nil
}

// RevokeOAuthTokensForUserClient revokes every live pair the client holds
// for the user. Used when a refresh token is revoked, taking its descendant
// access tokens with it.
func (s *Store) RevokeOAuthTokensForUserClient(ctx context.Context, userID int64, clientID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE oauth_tokens SET revoked = ? WHERE user_id = ? AND client_id = ? AND revoked = ?"),
		true, userID, clientID, false)
	if err != nil {
		return fmt.Errorf("revoke oauth tokens for user/client: %w", err)
	}
	return nil
}

// CountOAuthClients returns the number of registered clients.
func (s *Store) CountOAuthClients(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM oauth_clients"); err != nil {
		return 0, fmt.Errorf("count oauth clients: %w", err)
	}
	return n, nil
}
