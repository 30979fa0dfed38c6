// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/internal/auth/postgres"
	"github.com/Heur-a/servidor/pkg/errutil"
)

func TestSessionRepository_Save(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &auth.StoredSession{
		TokenHash: auth.HashSessionToken("tok"),
		User:      auth.SessionUser{ID: ulid.Make(), Email: "ana@example.com", UserType: auth.UserTypeStandard},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	t.Run("success", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO sessions .* ON CONFLICT \(token_hash\)`).
			WithArgs(session.TokenHash, session.User.ID.String(), "ana@example.com", 2, now, now.Add(time.Hour)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, postgres.NewSessionRepository(mock).Save(ctx, session))
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection refused"))

		err := postgres.NewSessionRepository(mock).Save(ctx, session)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_SAVE_FAILED")
		errutil.AssertErrorContext(t, err, "user_id", session.User.ID.String())
	})
}

func TestSessionRepository_Get(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	userID := ulid.Make()
	hash := auth.HashSessionToken("tok")
	cols := []string{"token_hash", "user_id", "email", "user_type", "created_at", "expires_at"}

	t.Run("found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`SELECT .* FROM sessions\s+WHERE token_hash = \$1`).
			WithArgs(hash).
			WillReturnRows(pgxmock.NewRows(cols).AddRow(hash, userID.String(), "ana@example.com", 1, now, now.Add(time.Hour)))

		got, err := postgres.NewSessionRepository(mock).Get(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, auth.SessionUser{ID: userID, Email: "ana@example.com", UserType: auth.UserTypeAdmin}, got.User)
		assert.Equal(t, now.Add(time.Hour), got.ExpiresAt)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`SELECT .* FROM sessions`).WithArgs(hash).WillReturnError(pgx.ErrNoRows)

		_, err := postgres.NewSessionRepository(mock).Get(ctx, hash)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("corrupt user id", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`SELECT .* FROM sessions`).
			WithArgs(hash).
			WillReturnRows(pgxmock.NewRows(cols).AddRow(hash, "bogus", "ana@example.com", 2, now, now))

		_, err := postgres.NewSessionRepository(mock).Get(ctx, hash)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_USER_ID")
	})
}

func TestSessionRepository_Delete(t *testing.T) {
	ctx := context.Background()
	hash := auth.HashSessionToken("tok")

	t.Run("deleted", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE token_hash = \$1`).
			WithArgs(hash).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, postgres.NewSessionRepository(mock).Delete(ctx, hash))
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE token_hash = \$1`).
			WithArgs(hash).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := postgres.NewSessionRepository(mock).Delete(ctx, hash)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_DeleteByUser(t *testing.T) {
	ctx := context.Background()
	userID := ulid.Make()

	t.Run("no sessions is fine", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE user_id = \$1`).
			WithArgs(userID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		require.NoError(t, postgres.NewSessionRepository(mock).DeleteByUser(ctx, userID))
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE user_id = \$1`).
			WithArgs(userID.String()).
			WillReturnError(errors.New("connection refused"))

		err := postgres.NewSessionRepository(mock).DeleteByUser(ctx, userID)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_DELETE_BY_USER_FAILED")
	})
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock := newMockPool(t)
	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := postgres.NewSessionRepository(mock).DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
