// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/Heur-a/servidor/internal/auth"
)

type codeRecord struct {
	CodeHash  string    `json:"code_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CodeStore implements auth.CodeStore on Redis. One key per (email, purpose).
type CodeStore struct {
	client goredis.Cmdable
	prefix string
	now    func() time.Time
}

// NewCodeStore creates a CodeStore. An empty prefix selects DefaultKeyPrefix.
func NewCodeStore(client goredis.Cmdable, prefix string) *CodeStore {
	return &CodeStore{client: client, prefix: prefixOrDefault(prefix), now: time.Now}
}

func (s *CodeStore) key(email string, purpose auth.Purpose) string {
	return s.prefix + "code:" + string(purpose) + ":" + auth.NormalizeEmail(email)
}

// Put stores code, replacing any other code for the same key.
func (s *CodeStore) Put(ctx context.Context, code *auth.VerificationCode) error {
	payload, err := json.Marshal(codeRecord{
		CodeHash:  code.CodeHash,
		IssuedAt:  code.IssuedAt,
		ExpiresAt: code.ExpiresAt,
	})
	if err != nil {
		return oops.Code("CODE_PUT_FAILED").With("operation", "marshal code").Wrap(err)
	}

	ttl := ttlUntil(code.ExpiresAt, s.now())
	if err := s.client.Set(ctx, s.key(code.Email, code.Purpose), payload, ttl).Err(); err != nil {
		return oops.Code("CODE_PUT_FAILED").
			With("operation", "set code").
			With("purpose", string(code.Purpose)).
			Wrap(err)
	}
	return nil
}

// GetActive returns the code for the key.
func (s *CodeStore) GetActive(ctx context.Context, email string, purpose auth.Purpose) (*auth.VerificationCode, error) {
	payload, err := s.client.Get(ctx, s.key(email, purpose)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, oops.Code("CODE_NOT_FOUND").
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").
			With("operation", "get code").
			With("purpose", string(purpose)).
			Wrap(err)
	}

	var rec codeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, oops.Code("CODE_GET_FAILED").With("operation", "unmarshal code").Wrap(err)
	}
	return &auth.VerificationCode{
		Email:     auth.NormalizeEmail(email),
		Purpose:   purpose,
		CodeHash:  rec.CodeHash,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// consumeScript deletes KEYS[1] only if its code_hash equals ARGV[1], or
// unconditionally when ARGV[1] is empty. It returns the number of deleted keys.
var consumeScript = goredis.NewScript(`
local payload = redis.call("GET", KEYS[1])
if not payload then
	return 0
end
if ARGV[1] ~= "" and cjson.decode(payload)["code_hash"] ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)

// Consume deletes the code when its hash is codeHash, or whatever code is
// stored when codeHash is empty. The check and the delete run as one script,
// so only one concurrent caller observes a removal.
func (s *CodeStore) Consume(ctx context.Context, email string, purpose auth.Purpose, codeHash string) error {
	n, err := consumeScript.Run(ctx, s.client, []string{s.key(email, purpose)}, codeHash).Int64()
	if err != nil {
		return oops.Code("CODE_CONSUME_FAILED").
			With("operation", "delete code").
			With("purpose", string(purpose)).
			Wrap(err)
	}
	if n == 0 {
		return oops.Code("CODE_NOT_FOUND").
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires code keys on its own.
func (s *CodeStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ auth.CodeStore = (*CodeStore)(nil)
