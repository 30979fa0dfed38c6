// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session configuration.
const (
	SessionTokenBytes = 32 // 32 bytes = 64 hex chars
	DefaultSessionTTL = 24 * time.Hour
)

// SessionUser is the user snapshot bound to an authenticated session.
type SessionUser struct {
	ID       ulid.ULID `json:"id"`
	Email    string    `json:"email"`
	UserType UserType  `json:"userType"`
}

// Session is a client session value. A nil User means the session is anonymous.
// Sessions are values: SessionManager transitions return new ones instead of
// mutating the argument.
type Session struct {
	ID        string
	User      *SessionUser
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsAuthenticated reports whether the session holds a user binding.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.User != nil
}

// IsExpiredAt returns true if an authenticated session is expired at t.
// Anonymous sessions never expire.
func (s *Session) IsExpiredAt(t time.Time) bool {
	if !s.IsAuthenticated() || s.ExpiresAt.IsZero() {
		return false
	}
	return !t.Before(s.ExpiresAt)
}

// StoredSession is the persisted form of an authenticated session.
type StoredSession struct {
	TokenHash string
	User      SessionUser
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore persists authenticated sessions by token hash.
type SessionStore interface {
	// Save stores or replaces a session.
	Save(ctx context.Context, session *StoredSession) error

	// Get retrieves a session by token hash. Returns ErrNotFound if absent.
	Get(ctx context.Context, tokenHash string) (*StoredSession, error)

	// Delete removes a session. Returns ErrNotFound if absent.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteByUser removes every session of a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes sessions expired before now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// GenerateSessionToken creates a secure random token and its hash.
// The plaintext token goes to the client; only the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hash of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionManager owns every session state transition:
// Anonymous -> Authenticated on Bind, Authenticated -> Anonymous on Clear.
type SessionManager struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionManager creates a SessionManager. A non-positive ttl selects
// DefaultSessionTTL.
func NewSessionManager(store SessionStore, ttl time.Duration) (*SessionManager, error) {
	if store == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("session store is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{store: store, ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of authenticated sessions.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// New returns a fresh anonymous session. Anonymous sessions are not persisted.
func (m *SessionManager) New() (*Session, error) {
	token, _, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	return &Session{ID: token, CreatedAt: m.now()}, nil
}

// Load resolves a client-presented session ID. Unknown, empty or expired IDs
// resolve to a new anonymous session.
func (m *SessionManager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return m.New()
	}

	hash := HashSessionToken(id)
	stored, err := m.store.Get(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return m.New()
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOAD_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	if !m.now().Before(stored.ExpiresAt) {
		if delErr := m.store.Delete(ctx, hash); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			return nil, oops.Code("SESSION_LOAD_FAILED").
				With("operation", "delete expired session").
				Wrap(delErr)
		}
		return m.New()
	}

	user := stored.User
	return &Session{
		ID:        id,
		User:      &user,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// Bind binds user to the session and returns the authenticated session.
// The session ID is always rotated; a previous stored binding is removed.
// A nil session is treated as a new anonymous one.
func (m *SessionManager) Bind(ctx context.Context, s *Session, user SessionUser) (*Session, error) {
	if user.ID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}

	token, hash, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	stored := &StoredSession{
		TokenHash: hash,
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, stored); err != nil {
		return nil, oops.Code("SESSION_BIND_FAILED").
			With("operation", "save session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if s.IsAuthenticated() {
		if err := m.store.Delete(ctx, HashSessionToken(s.ID)); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_BIND_FAILED").
				With("operation", "delete previous session").
				Wrap(err)
		}
	}

	bound := user
	return &Session{
		ID:        token,
		User:      &bound,
		CreatedAt: now,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// Clear removes the user binding and returns an anonymous session.
// Clearing an anonymous session, or one already gone from the store, is a no-op.
func (m *SessionManager) Clear(ctx context.Context, s *Session) (*Session, error) {
	if s == nil {
		return m.New()
	}
	if s.IsAuthenticated() {
		if err := m.store.Delete(ctx, HashSessionToken(s.ID)); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_CLEAR_FAILED").
				With("operation", "delete session").
				Wrap(err)
		}
	}
	return &Session{ID: s.ID, CreatedAt: s.CreatedAt}, nil
}

// Current returns the user bound to s, or nil when s is anonymous or expired.
func (m *SessionManager) Current(s *Session) *SessionUser {
	if !s.IsAuthenticated() || s.IsExpiredAt(m.now()) {
		return nil
	}
	user := *s.User
	return &user
}

// RevokeUser deletes every stored session of a user.
func (m *SessionManager) RevokeUser(ctx context.Context, userID ulid.ULID) error {
	if err := m.store.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}
