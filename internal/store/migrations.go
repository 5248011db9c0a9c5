package store

import (
	"fmt"
	"strings"
)

// Dialect placeholders expanded per backend before execution. Keeping the
// DDL in one place with three substitutions beats maintaining a schema per
// driver for tables this small.
var dialects = map[string]map[string]string{
	"sqlite": {
		"{AUTOPK}":   "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{DATETIME}": "DATETIME",
		"{BOOL}":     "INTEGER",
	},
	"mysql": {
		"{AUTOPK}":   "BIGINT PRIMARY KEY AUTO_INCREMENT",
		"{DATETIME}": "DATETIME(6)",
		"{BOOL}":     "TINYINT(1)",
	},
	"postgres": {
		"{AUTOPK}":   "BIGSERIAL PRIMARY KEY",
		"{DATETIME}": "TIMESTAMPTZ",
		"{BOOL}":     "BOOLEAN",
	},
}

func (s *Store) migrate() error {
	repl, ok := dialects[s.driver]
	if !ok {
		return fmt.Errorf("unsupported driver %q", s.driver)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id {AUTOPK},
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'free',
			is_active {BOOL} NOT NULL DEFAULT 1,
			last_login_at {DATETIME},
			created_at {DATETIME} NOT NULL,
			updated_at {DATETIME} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id {AUTOPK},
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			key_hash VARCHAR(64) UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT 'read',
			ip_allowlist TEXT NOT NULL DEFAULT '',
			is_active {BOOL} NOT NULL DEFAULT 1,
			expires_at {DATETIME},
			created_at {DATETIME} NOT NULL,
			last_used_at {DATETIME},
			usage_count BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS oauth_clients (
			id {AUTOPK},
			client_id VARCHAR(64) UNIQUE NOT NULL,
			secret_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			redirect_uri TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT 'read',
			is_active {BOOL} NOT NULL DEFAULT 1,
			created_at {DATETIME} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS oauth_codes (
			id {AUTOPK},
			code_hash VARCHAR(64) UNIQUE NOT NULL,
			client_id TEXT NOT NULL,
			user_id BIGINT NOT NULL,
			redirect_uri TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '',
			used {BOOL} NOT NULL DEFAULT 0,
			expires_at {DATETIME} NOT NULL,
			created_at {DATETIME} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			id {AUTOPK},
			token_hash VARCHAR(64) UNIQUE NOT NULL,
			refresh_token_hash VARCHAR(64),
			client_id TEXT NOT NULL,
			user_id BIGINT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '',
			revoked {BOOL} NOT NULL DEFAULT 0,
			issued_at {DATETIME} NOT NULL,
			expires_at {DATETIME} NOT NULL,
			refresh_expires_at {DATETIME}
		)`,

		`CREATE TABLE IF NOT EXISTS security_events (
			id {AUTOPK},
			type TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '{}',
			ip TEXT NOT NULL DEFAULT '',
			created_at {DATETIME} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			name VARCHAR(191) PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_refresh ON oauth_tokens(refresh_token_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(type, created_at)`,
	}

	for i, m := range migrations {
		for tag, val := range repl {
			m = strings.ReplaceAll(m, tag, val)
		}
		if _, err := s.db.Exec(m); err != nil {
			// Index re-creation races and duplicate-column errors from
			// re-running old migrations are not fatal.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") ||
				strings.Contains(strings.ToLower(err.Error()), "already exists") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
