// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/Heur-a/servidor/internal/auth"
)

type codeKey struct {
	email   string
	purpose auth.Purpose
}

// CodeStore is an in-memory auth.CodeStore.
type CodeStore struct {
	mu    sync.Mutex
	codes map[codeKey]auth.VerificationCode
}

// NewCodeStore creates an empty CodeStore.
func NewCodeStore() *CodeStore {
	return &CodeStore{codes: make(map[codeKey]auth.VerificationCode)}
}

// Put stores code, replacing any code with the same key.
func (s *CodeStore) Put(_ context.Context, code *auth.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[codeKey{code.Email, code.Purpose}] = *code
	return nil
}

// GetActive returns the stored code for the key.
func (s *CodeStore) GetActive(_ context.Context, email string, purpose auth.Purpose) (*auth.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[codeKey{email, purpose}]
	if !ok {
		return nil, oops.Code("CODE_NOT_FOUND").
			With("purpose", purpose.String()).
			Wrap(auth.ErrNotFound)
	}
	return &code, nil
}

// Consume removes the code for the key when its hash is codeHash, or
// unconditionally when codeHash is empty.
func (s *CodeStore) Consume(_ context.Context, email string, purpose auth.Purpose, codeHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey{email, purpose}
	code, ok := s.codes[key]
	if !ok || (codeHash != "" && code.CodeHash != codeHash) {
		return oops.Code("CODE_NOT_FOUND").
			With("purpose", purpose.String()).
			Wrap(auth.ErrNotFound)
	}
	delete(s.codes, key)
	return nil
}

// DeleteExpired removes codes expired at now.
func (s *CodeStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, code := range s.codes {
		if code.IsExpiredAt(now) {
			delete(s.codes, key)
			n++
		}
	}
	return n, nil
}

var _ auth.CodeStore = (*CodeStore)(nil)
