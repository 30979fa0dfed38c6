// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// UserType discriminates account roles.
type UserType int

// Known user types. Values match the persisted user_type column.
const (
	UserTypeAdmin    UserType = 1
	UserTypeStandard UserType = 2
)

// IsAdmin reports whether the type is the administrator role.
func (t UserType) IsAdmin() bool {
	return t == UserTypeAdmin
}

// String returns the role name.
func (t UserType) String() string {
	if t == UserTypeAdmin {
		return "admin"
	}
	return "standard"
}

// User is an account record owned by the credential store.
type User struct {
	ID            ulid.ULID
	Email         string
	Name          string
	LastName1     string
	LastName2     string
	Tel           string
	PasswordHash  string
	UserType      UserType
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Snapshot returns the subset of the user carried by a session.
func (u *User) Snapshot() SessionUser {
	return SessionUser{
		ID:       u.ID,
		Email:    u.Email,
		UserType: u.UserType,
	}
}

// Profile is the user data exposed to the account owner.
type Profile struct {
	ID            ulid.ULID `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	LastName1     string    `json:"lastName1"`
	LastName2     string    `json:"lastName2"`
	Tel           string    `json:"tel"`
	UserType      UserType  `json:"userType"`
	EmailVerified bool      `json:"emailVerified"`
}

// Profile returns the owner-visible view of the user.
func (u *User) Profile() *Profile {
	return &Profile{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		LastName1:     u.LastName1,
		LastName2:     u.LastName2,
		Tel:           u.Tel,
		UserType:      u.UserType,
		EmailVerified: u.EmailVerified,
	}
}

// RegisterInput holds the data submitted at registration.
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,max=128"`
	Name      string `json:"name" validate:"max=100"`
	LastName1 string `json:"lastName1" validate:"max=100"`
	LastName2 string `json:"lastName2" validate:"max=100"`
	Tel       string `json:"tel" validate:"max=32"`
}

// ProfileUpdate lists the fields a user may change. Nil fields are left untouched.
// Email is intentionally absent.
type ProfileUpdate struct {
	Name      *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	LastName1 *string `json:"lastName1,omitempty" validate:"omitempty,min=1,max=100"`
	LastName2 *string `json:"lastName2,omitempty" validate:"omitempty,max=100"`
	Tel       *string `json:"tel,omitempty" validate:"omitempty,max=32"`
	Password  *string `json:"password,omitempty" validate:"omitempty,min=1,max=128"`
}

// IsEmpty reports whether the update changes nothing.
func (p ProfileUpdate) IsEmpty() bool {
	return p.Name == nil && p.LastName1 == nil && p.LastName2 == nil && p.Tel == nil && p.Password == nil
}

// trimmed returns a copy with surrounding whitespace removed from the
// provided name and phone fields. Passwords are kept verbatim.
func (p ProfileUpdate) trimmed() ProfileUpdate {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	p.Name = trim(p.Name)
	p.LastName1 = trim(p.LastName1)
	p.LastName2 = trim(p.LastName2)
	p.Tel = trim(p.Tel)
	return p
}

// apply copies the non-password fields onto u.
func (p ProfileUpdate) apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.LastName1 != nil {
		u.LastName1 = *p.LastName1
	}
	if p.LastName2 != nil {
		u.LastName2 = *p.LastName2
	}
	if p.Tel != nil {
		u.Tel = *p.Tel
	}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserRepository is the credential store.
type UserRepository interface {
	// GetByEmail retrieves a user by normalized email.
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// Create stores a new user. Returns an error wrapping ErrConflict if the
	// email is already taken.
	Create(ctx context.Context, user *User) error

	// Update overwrites the mutable fields of an existing user.
	Update(ctx context.Context, user *User) error
}
