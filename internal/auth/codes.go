// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Verification code configuration.
const (
	CodeDigits        = 6
	DefaultCodeTTL    = 15 * time.Minute
	GeneratedPassLen  = 16
	passwordAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
	codeDigitAlphabet = "0123456789"
)

// Purpose scopes a verification code.
type Purpose string

// Code purposes.
const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// String returns the persisted purpose value.
func (p Purpose) String() string {
	return string(p)
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// VerificationCode is an issued one-time code. Only the hash of the code is kept.
type VerificationCode struct {
	Email     string
	Purpose   Purpose
	CodeHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpiredAt returns true if the code is expired at t.
func (c *VerificationCode) IsExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// Matches compares a candidate code against the stored hash in constant time.
func (c *VerificationCode) Matches(candidate string) bool {
	if candidate == "" || c.CodeHash == "" {
		return false
	}
	computed := HashCode(candidate)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(c.CodeHash)) == 1
}

// HashCode computes the SHA256 hex digest of a code.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeStore persists verification codes keyed by (email, purpose).
type CodeStore interface {
	// Put stores code as the only active code for its key, replacing any other.
	Put(ctx context.Context, code *VerificationCode) error

	// GetActive returns the code for the key, expired or not.
	// Returns ErrNotFound if there is none.
	GetActive(ctx context.Context, email string, purpose Purpose) (*VerificationCode, error)

	// Consume atomically removes the code for the key if its hash is codeHash.
	// An empty codeHash removes whatever code is stored.
	// Returns ErrNotFound if nothing was removed.
	Consume(ctx context.Context, email string, purpose Purpose, codeHash string) error

	// DeleteExpired removes codes expired before now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// GenerateCode returns a uniformly random numeric code of CodeDigits digits.
func GenerateCode() (string, error) {
	return randomString(codeDigitAlphabet, CodeDigits)
}

// GeneratePassword returns a random password of GeneratedPassLen characters
// from an alphabet without look-alike characters.
func GeneratePassword() (string, error) {
	return randomString(passwordAlphabet, GeneratedPassLen)
}

func randomString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", oops.Code("AUTH_RANDOM_FAILED").
				With("operation", "crypto/rand.Int").
				Wrap(err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// keyedMutex hands out one mutex per key and drops it when no goroutine holds
// or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock locks key and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of live keys.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// CodeIssuer issues and validates single-use verification codes.
// Issue and Validate on the same (email, purpose) key never run concurrently
// within one process. Across processes, Validate only consumes the exact code
// it checked, so a code replaced in between is never accepted.
type CodeIssuer struct {
	store    CodeStore
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
	locks    *keyedMutex
}

// IssuerOption configures a CodeIssuer.
type IssuerOption func(*CodeIssuer)

// WithCodeTTL sets the lifetime of issued codes.
func WithCodeTTL(ttl time.Duration) IssuerOption {
	return func(i *CodeIssuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *CodeIssuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithCodeGenerator overrides the code generator.
func WithCodeGenerator(gen func() (string, error)) IssuerOption {
	return func(i *CodeIssuer) {
		if gen != nil {
			i.generate = gen
		}
	}
}

// NewCodeIssuer creates a CodeIssuer backed by store.
func NewCodeIssuer(store CodeStore, opts ...IssuerOption) (*CodeIssuer, error) {
	if store == nil {
		return nil, oops.Code("ISSUER_INVALID_CONFIG").Errorf("code store is required")
	}
	i := &CodeIssuer{
		store:    store,
		ttl:      DefaultCodeTTL,
		now:      time.Now,
		generate: GenerateCode,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the lifetime of issued codes.
func (i *CodeIssuer) TTL() time.Duration {
	return i.ttl
}

func codeKey(email string, purpose Purpose) string {
	return purpose.String() + "\x00" + email
}

// Lock serializes work on a (email, purpose) key with Issue and Validate.
func (i *CodeIssuer) Lock(email string, purpose Purpose) func() {
	return i.locks.Lock(codeKey(email, purpose))
}

// Issue generates a new code for the key, replacing any active one, and
// returns the plaintext code.
func (i *CodeIssuer) Issue(ctx context.Context, email string, purpose Purpose) (string, error) {
	if !purpose.Valid() {
		return "", oops.Code("CODE_INVALID_PURPOSE").With("purpose", purpose.String()).Errorf("unknown code purpose")
	}

	unlock := i.Lock(email, purpose)
	defer unlock()

	code, err := i.generate()
	if err != nil {
		return "", oops.Code("CODE_ISSUE_FAILED").
			With("operation", "generate code").
			Wrap(err)
	}

	now := i.now()
	record := &VerificationCode{
		Email:     email,
		Purpose:   purpose,
		CodeHash:  HashCode(code),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.Put(ctx, record); err != nil {
		return "", oops.Code("CODE_ISSUE_FAILED").
			With("operation", "store code").
			With("purpose", purpose.String()).
			Wrap(err)
	}
	return code, nil
}

// Validate checks candidate against the active code for the key and consumes
// it on a match. It fails closed: any missing, expired or mismatched code
// yields false.
func (i *CodeIssuer) Validate(ctx context.Context, email string, purpose Purpose, candidate string) (bool, error) {
	if candidate == "" {
		return false, nil
	}

	unlock := i.Lock(email, purpose)
	defer unlock()

	record, err := i.store.GetActive(ctx, email, purpose)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("CODE_VALIDATE_FAILED").
			With("operation", "get active code").
			With("purpose", purpose.String()).
			Wrap(err)
	}

	if record.IsExpiredAt(i.now()) {
		if err := i.store.Consume(ctx, email, purpose, record.CodeHash); err != nil && !errors.Is(err, ErrNotFound) {
			return false, oops.Code("CODE_VALIDATE_FAILED").
				With("operation", "discard expired code").
				Wrap(err)
		}
		return false, nil
	}

	if !record.Matches(candidate) {
		return false, nil
	}

	if err := i.store.Consume(ctx, email, purpose, record.CodeHash); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Consumed or replaced concurrently by another instance.
			return false, nil
		}
		return false, oops.Code("CODE_VALIDATE_FAILED").
			With("operation", "consume code").
			With("purpose", purpose.String()).
			Wrap(err)
	}
	return true, nil
}

// Invalidate discards any active code for the key. A missing code is not an
// error. It does not take the key lock, so callers already holding it may call it.
func (i *CodeIssuer) Invalidate(ctx context.Context, email string, purpose Purpose) error {
	if err := i.store.Consume(ctx, email, purpose, ""); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("CODE_INVALIDATE_FAILED").
			With("purpose", purpose.String()).
			Wrap(err)
	}
	return nil
}
