package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/purrrlove/perch/internal/model"
)

// CreateUser inserts a new user record. The PasswordHash must already be a
// bcrypt hash. ID and timestamps are populated on return.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Tier == "" {
		u.Tier = model.TierFree
	}

	id, err := s.insertID(ctx, `INSERT INTO users
		(email, password_hash, name, tier, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.Name, u.Tier, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser looks up a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.rebind("SELECT * FROM users WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail looks up a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.rebind("SELECT * FROM users WHERE email = ?"), email)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// UpdateUserProfile mutates the user's display name. Tier and credential
// changes go through dedicated paths.
func (s *Store) UpdateUserProfile(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET name = ?, updated_at = ? WHERE id = ?"),
		name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return requireRow(res, "update user profile")
}

// SetUserActive enables or disables an account. Disabling takes effect on
// the next request; every credential check re-reads the owner row.
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?"),
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return requireRow(res, "set user active")
}

// UpdateUserLastLogin stamps the last successful login.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET last_login_at = ? WHERE id = ?"),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	return nil
}

// CountUsers returns the number of user accounts.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// HasAnyUser reports whether at least one account exists, for first-run
// detection in serve.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	n, err := s.CountUsers(ctx)
	return n > 0, err
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
