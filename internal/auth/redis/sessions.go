// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/Heur-a/servidor/internal/auth"
)

type sessionRecord struct {
	UserID    string        `json:"user_id"`
	Email     string        `json:"email"`
	UserType  auth.UserType `json:"user_type"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// SessionStore implements auth.SessionStore on Redis. Each session is a
// string key; a per-user set indexes the token hashes for DeleteByUser.
type SessionStore struct {
	client goredis.Cmdable
	prefix string
	now    func() time.Time
}

// NewSessionStore creates a SessionStore. An empty prefix selects DefaultKeyPrefix.
func NewSessionStore(client goredis.Cmdable, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefixOrDefault(prefix), now: time.Now}
}

func (s *SessionStore) sessionKey(tokenHash string) string {
	return s.prefix + "session:" + tokenHash
}

func (s *SessionStore) userKey(userID string) string {
	return s.prefix + "user-sessions:" + userID
}

// Save stores or replaces a session.
func (s *SessionStore) Save(ctx context.Context, session *auth.StoredSession) error {
	userID := session.User.ID.String()
	payload, err := json.Marshal(sessionRecord{
		UserID:    userID,
		Email:     session.User.Email,
		UserType:  session.User.UserType,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return oops.Code("SESSION_SAVE_FAILED").With("operation", "marshal session").Wrap(err)
	}

	ttl := ttlUntil(session.ExpiresAt, s.now())
	userKey := s.userKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.TokenHash), payload, ttl)
		pipe.SAdd(ctx, userKey, session.TokenHash)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_SAVE_FAILED").
			With("operation", "store session").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// Get retrieves a session by token hash.
func (s *SessionStore) Get(ctx context.Context, tokenHash string) (*auth.StoredSession, error) {
	rec, err := s.load(ctx, tokenHash)
	if err != nil {
		return nil, err
	}

	userID, err := ulid.Parse(rec.UserID)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").
			With("user_id", rec.UserID).
			Wrap(err)
	}
	return &auth.StoredSession{
		TokenHash: tokenHash,
		User:      auth.SessionUser{ID: userID, Email: rec.Email, UserType: rec.UserType},
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *SessionStore) load(ctx context.Context, tokenHash string) (*sessionRecord, error) {
	payload, err := s.client.Get(ctx, s.sessionKey(tokenHash)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").With("operation", "get session").Wrap(err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").With("operation", "unmarshal session").Wrap(err)
	}
	return &rec, nil
}

// Delete removes a session and its entry in the user index.
func (s *SessionStore) Delete(ctx context.Context, tokenHash string) error {
	rec, err := s.load(ctx, tokenHash)
	if err != nil {
		return err
	}

	var del *goredis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.sessionKey(tokenHash))
		pipe.SRem(ctx, s.userKey(rec.UserID), tokenHash)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "delete session").Wrap(err)
	}
	if del.Val() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByUser removes every session of a user.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	userKey := s.userKey(userID.String())
	hashes, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "list user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, s.sessionKey(hash))
	}
	keys = append(keys, userKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires session keys on its own.
func (s *SessionStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ auth.SessionStore = (*SessionStore)(nil)
