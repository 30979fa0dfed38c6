// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

// Package memstore provides in-memory implementations of the auth stores for
// development mode and tests. Data does not survive a restart.
package memstore

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/Heur-a/servidor/internal/auth"
)

// UserRepository is an in-memory auth.UserRepository.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	u := *r.byID[id]
	return &u, nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u := *stored
	return &u, nil
}

// Create stores a new user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := auth.NormalizeEmail(user.Email)
	if _, taken := r.byEmail[email]; taken {
		return oops.Code("USER_EMAIL_EXISTS").With("email", email).Wrap(auth.ErrConflict)
	}
	if _, taken := r.byID[user.ID]; taken {
		return oops.Code("USER_ID_EXISTS").With("id", user.ID.String()).Wrap(auth.ErrConflict)
	}

	u := *user
	r.byID[u.ID] = &u
	r.byEmail[email] = u.ID
	return nil
}

// Update overwrites an existing user. The email is immutable here.
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	u := *user
	u.Email = stored.Email
	u.CreatedAt = stored.CreatedAt
	r.byID[u.ID] = &u
	return nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

var _ auth.UserRepository = (*UserRepository)(nil)
