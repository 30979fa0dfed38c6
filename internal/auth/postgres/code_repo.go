// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/Heur-a/servidor/internal/auth"
)

// CodeRepository implements auth.CodeStore using PostgreSQL.
// The (email, purpose) primary key keeps at most one active code per key.
type CodeRepository struct {
	db DB
}

// NewCodeRepository creates a new CodeRepository.
func NewCodeRepository(db DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// Put stores code, replacing any other code for the same key.
func (r *CodeRepository) Put(ctx context.Context, code *auth.VerificationCode) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO verification_codes (email, purpose, code_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email, purpose) DO UPDATE SET
			code_hash = EXCLUDED.code_hash,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at
	`,
		auth.NormalizeEmail(code.Email),
		string(code.Purpose),
		code.CodeHash,
		code.IssuedAt,
		code.ExpiresAt,
	)
	if err != nil {
		return oops.Code("CODE_PUT_FAILED").
			With("operation", "upsert verification code").
			With("purpose", string(code.Purpose)).
			Wrap(err)
	}
	return nil
}

// GetActive returns the code stored for the key, expired or not.
func (r *CodeRepository) GetActive(ctx context.Context, email string, purpose auth.Purpose) (*auth.VerificationCode, error) {
	email = auth.NormalizeEmail(email)
	row := r.db.QueryRow(ctx, `
		SELECT email, purpose, code_hash, issued_at, expires_at
		FROM verification_codes
		WHERE email = $1 AND purpose = $2
	`, email, string(purpose))

	var (
		code       auth.VerificationCode
		purposeStr string
	)
	err := row.Scan(&code.Email, &purposeStr, &code.CodeHash, &code.IssuedAt, &code.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CODE_NOT_FOUND").
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").
			With("operation", "get verification code").
			With("purpose", string(purpose)).
			Wrap(err)
	}
	code.Purpose = auth.Purpose(purposeStr)
	return &code, nil
}

// Consume deletes the code for the key, restricted to codeHash when it is
// set. Only one concurrent caller sees a deleted row; the others get
// auth.ErrNotFound.
func (r *CodeRepository) Consume(ctx context.Context, email string, purpose auth.Purpose, codeHash string) error {
	var (
		result pgconn.CommandTag
		err    error
	)
	if codeHash == "" {
		result, err = r.db.Exec(ctx, `
			DELETE FROM verification_codes WHERE email = $1 AND purpose = $2
		`, auth.NormalizeEmail(email), string(purpose))
	} else {
		result, err = r.db.Exec(ctx, `
			DELETE FROM verification_codes WHERE email = $1 AND purpose = $2 AND code_hash = $3
		`, auth.NormalizeEmail(email), string(purpose), codeHash)
	}
	if err != nil {
		return oops.Code("CODE_CONSUME_FAILED").
			With("operation", "delete verification code").
			With("purpose", string(purpose)).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CODE_NOT_FOUND").
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes codes expired before now.
func (r *CodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM verification_codes WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("CODE_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired verification codes").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.CodeStore = (*CodeRepository)(nil)
