package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is the gateway's credential store. It persists users, API keys,
// OAuth2 clients, authorization codes, token pairs, and security events.
// SQLite is the embedded default; MySQL/MariaDB and Postgres are supported
// for deployments that share the platform's database.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens the embedded SQLite backend under dataDir. Pass an empty
// string for an in-memory store (tests).
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "perch.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open("sqlite", dsn)
}

// Open connects to the given backend. Supported drivers: sqlite, mysql,
// postgres (pgx).
func Open(driver, dsn string) (*Store, error) {
	sqlDriver := driver
	if driver == "postgres" {
		sqlDriver = "pgx"
	}

	db, err := sqlx.Connect(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential store (%s): %w", driver, err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate credential store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the backend is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the backend driver name.
func (s *Store) Driver() string {
	return s.driver
}

// rebind converts ?-style placeholders to the backend's bindvar format.
func (s *Store) rebind(q string) string {
	return s.db.Rebind(q)
}

// insertID executes an INSERT and returns the new row ID. Postgres has no
// LastInsertId, so the query grows a RETURNING clause there.
func (s *Store) insertID(ctx context.Context, q string, args ...any) (int64, error) {
	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRowxContext(ctx, s.rebind(q+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// HashSecret returns the hex-encoded SHA-256 hash of a raw credential. All
// API keys, OAuth tokens, and authorization codes are looked up by this
// hash, never by raw value.
func HashSecret(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// ---------------------------------------------------------------------------
// Settings (key/value, used for instance identity and feature toggles)
// ---------------------------------------------------------------------------

// GetSetting retrieves a settings value by key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.rebind("SELECT value FROM settings WHERE name = ?"), key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting inserts or replaces a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM settings WHERE name = ?"), key)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind("INSERT INTO settings (name, value) VALUES (?, ?)"), key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
