package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
)

// SessionService issues and validates the signed session tokens the web
// application uses after login. Session tokens are JWTs; unlike API keys
// and OAuth tokens they are verified by signature, not by store lookup.
type SessionService struct {
	store  *store.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionService builds a session service. ttl <= 0 gets the platform
// default of one hour.
func NewSessionService(st *store.Store, secret string, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionService{
		store:  st,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock overrides the service's time source. Tests only.
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

type sessionClaims struct {
	UserID int64    `json:"user_id"`
	Email  string   `json:"email"`
	Tier   string   `json:"tier"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Login verifies the password against the stored bcrypt hash and returns a
// signed session token with the user. Lookup misses and hash mismatches
// are indistinguishable to the caller.
func (s *SessionService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !u.IsActive {
		return "", nil, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.Issue(u)
	if err != nil {
		return "", nil, err
	}
	_ = s.store.UpdateUserLastLogin(ctx, u.ID)
	return token, u, nil
}

// Issue signs a fresh session token for the user. Sessions carry read and
// write scopes; the admin scope is never granted through a session.
func (s *SessionService) Issue(u *model.User) (string, error) {
	now := s.now()
	claims := sessionClaims{
		UserID: u.ID,
		Email:  u.Email,
		Tier:   u.Tier,
		Scopes: []string{model.ScopeRead, model.ScopeWrite},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    "perch",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// TTL returns the configured session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Validate parses and verifies a session token, returning a user_session
// principal.
func (s *SessionService) Validate(tokenStr string) (*model.Principal, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &model.Principal{
		UserID: claims.UserID,
		Kind:   model.KindUserSession,
		Scopes: claims.Scopes,
		Tier:   claims.Tier,
	}, nil
}

// Profile returns the user record behind a principal, for the auth/profile
// resource.
func (s *SessionService) Profile(ctx context.Context, p *model.Principal) (*model.User, error) {
	u, err := s.store.GetUser(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.ErrNotFound("User")
		}
		return nil, err
	}
	return u, nil
}

// UpdateProfile mutates the principal's own display name.
func (s *SessionService) UpdateProfile(ctx context.Context, p *model.Principal, name string) (*model.User, error) {
	if name == "" {
		return nil, gateway.ErrValidation("Name must not be empty")
	}
	if err := s.store.UpdateUserProfile(ctx, p.UserID, name); err != nil {
		return nil, err
	}
	return s.Profile(ctx, p)
}

// HashPassword returns the bcrypt hash for a new password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
