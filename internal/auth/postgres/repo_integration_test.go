// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

//go:build integration

package postgres_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/internal/auth/postgres"
)

func createUser(t *testing.T, email string) *auth.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	user := &auth.User{
		ID:           ulid.Make(),
		Email:        email,
		Name:         "Ana",
		PasswordHash: "$argon2id$hash",
		UserType:     auth.UserTypeStandard,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, postgres.NewUserRepository(testPool).Create(context.Background(), user))
	return user
}

func uniqueEmail(prefix string) string {
	return strings.ToLower(prefix + "-" + ulid.Make().String() + "@example.com")
}

func TestUserRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewUserRepository(testPool)

	t.Run("round trip and case-insensitive lookup", func(t *testing.T) {
		email := uniqueEmail("roundtrip")
		user := createUser(t, email)

		got, err := repo.GetByEmail(ctx, "  "+email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, auth.UserTypeStandard, got.UserType)
		assert.False(t, got.EmailVerified)
	})

	t.Run("duplicate email conflicts regardless of case", func(t *testing.T) {
		email := uniqueEmail("dup")
		createUser(t, email)

		other := &auth.User{ID: ulid.Make(), Email: email, PasswordHash: "x", UserType: auth.UserTypeStandard}
		err := repo.Create(ctx, other)
		require.ErrorIs(t, err, auth.ErrConflict)
	})

	t.Run("concurrent creates of one email admit a single winner", func(t *testing.T) {
		email := uniqueEmail("race")
		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			conflicts atomic.Int32
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.Create(ctx, &auth.User{ID: ulid.Make(), Email: email, PasswordHash: "x", UserType: auth.UserTypeStandard})
				switch {
				case err == nil:
					successes.Add(1)
				case assert.ErrorIs(t, err, auth.ErrConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
		assert.Equal(t, int32(7), conflicts.Load())
	})

	t.Run("update keeps the email", func(t *testing.T) {
		user := createUser(t, uniqueEmail("update"))
		user.Name = "Ana María"
		user.EmailVerified = true
		user.Email = "changed@example.com"
		require.NoError(t, repo.Update(ctx, user))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ana María", got.Name)
		assert.True(t, got.EmailVerified)
		assert.NotEqual(t, "changed@example.com", got.Email)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.GetByID(ctx, ulid.Make())
		require.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestCodeRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewCodeRepository(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	email := uniqueEmail("codes")

	put := func(hash string, expires time.Time) {
		require.NoError(t, repo.Put(ctx, &auth.VerificationCode{
			Email: email, Purpose: auth.PurposeEmailVerification,
			CodeHash: hash, IssuedAt: now, ExpiresAt: expires,
		}))
	}

	put("first", now.Add(time.Minute))
	put("second", now.Add(time.Minute))

	got, err := repo.GetActive(ctx, email, auth.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, "second", got.CodeHash, "put replaces the active code")

	_, err = repo.GetActive(ctx, email, auth.PurposePasswordReset)
	require.ErrorIs(t, err, auth.ErrNotFound)

	require.ErrorIs(t, repo.Consume(ctx, email, auth.PurposeEmailVerification, "first"), auth.ErrNotFound,
		"a replaced code cannot be consumed")

	var consumed atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.Consume(ctx, email, auth.PurposeEmailVerification, "second") == nil {
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), consumed.Load(), "only one consumer wins")

	put("stale", now.Add(-time.Minute))
	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestSessionRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewSessionRepository(testPool)
	user := createUser(t, uniqueEmail("sessions"))
	now := time.Now().UTC().Truncate(time.Microsecond)

	save := func(token string, expires time.Time) string {
		hash := auth.HashSessionToken(token)
		require.NoError(t, repo.Save(ctx, &auth.StoredSession{
			TokenHash: hash,
			User:      user.Snapshot(),
			CreatedAt: now,
			ExpiresAt: expires,
		}))
		return hash
	}

	a := save(ulid.Make().String(), now.Add(time.Hour))
	b := save(ulid.Make().String(), now.Add(time.Hour))

	got, err := repo.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, user.Snapshot(), got.User)
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

	require.NoError(t, repo.Delete(ctx, a))
	require.ErrorIs(t, repo.Delete(ctx, a), auth.ErrNotFound)

	require.NoError(t, repo.DeleteByUser(ctx, user.ID))
	_, err = repo.Get(ctx, b)
	require.ErrorIs(t, err, auth.ErrNotFound)

	save(ulid.Make().String(), now.Add(-time.Second))
	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}
