// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/Heur-a/servidor/internal/auth"
)

// SessionRepository implements auth.SessionStore using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save stores or replaces a session.
func (r *SessionRepository) Save(ctx context.Context, session *auth.StoredSession) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (token_hash, user_id, email, user_type, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			email = EXCLUDED.email,
			user_type = EXCLUDED.user_type,
			expires_at = EXCLUDED.expires_at
	`,
		session.TokenHash,
		session.User.ID.String(),
		session.User.Email,
		int(session.User.UserType),
		session.CreatedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return oops.Code("SESSION_SAVE_FAILED").
			With("operation", "upsert session").
			With("user_id", session.User.ID.String()).
			Wrap(err)
	}
	return nil
}

// Get retrieves a session by token hash.
func (r *SessionRepository) Get(ctx context.Context, tokenHash string) (*auth.StoredSession, error) {
	row := r.db.QueryRow(ctx, `
		SELECT token_hash, user_id, email, user_type, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, tokenHash string) error {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes every session of a user.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE user_id = $1
	`, userID.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes sessions expired before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a StoredSession.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.StoredSession, error) {
	var (
		session   auth.StoredSession
		userIDStr string
		userType  int
	)
	err := row.Scan(
		&session.TokenHash,
		&userIDStr,
		&session.User.Email,
		&userType,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session").
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", userIDStr).
			Wrap(err)
	}
	session.User.ID = userID
	session.User.UserType = auth.UserType(userType)
	return &session, nil
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionRepository)(nil)
