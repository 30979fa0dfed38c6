// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package auth_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/internal/auth/memstore"
	"github.com/Heur-a/servidor/internal/auth/mocks"
	"github.com/Heur-a/servidor/pkg/errutil"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGenerateCode(t *testing.T) {
	digits := regexp.MustCompile(`^[0-9]{6}$`)
	for range 50 {
		code, err := auth.GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, digits, code)
	}
}

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for range 20 {
		pw, err := auth.GeneratePassword()
		require.NoError(t, err)
		assert.Len(t, pw, auth.GeneratedPassLen)
		assert.NotContainsf(t, pw, "0", "look-alike character in %q", pw)
		assert.NotContainsf(t, pw, "O", "look-alike character in %q", pw)
		assert.NotContainsf(t, pw, "l", "look-alike character in %q", pw)
		assert.False(t, seen[pw])
		seen[pw] = true
	}
}

func TestVerificationCode_Matches(t *testing.T) {
	code := &auth.VerificationCode{CodeHash: auth.HashCode("123456")}

	assert.True(t, code.Matches("123456"))
	assert.False(t, code.Matches("654321"))
	assert.False(t, code.Matches(""))
	assert.False(t, (&auth.VerificationCode{}).Matches("123456"))
}

func TestPurpose_Valid(t *testing.T) {
	assert.True(t, auth.PurposeEmailVerification.Valid())
	assert.True(t, auth.PurposePasswordReset.Valid())
	assert.False(t, auth.Purpose("login").Valid())
}

func TestNewCodeIssuer_NilStore(t *testing.T) {
	issuer, err := auth.NewCodeIssuer(nil)
	require.Error(t, err)
	assert.Nil(t, issuer)
	errutil.AssertErrorCode(t, err, "ISSUER_INVALID_CONFIG")
}

func newIssuer(t *testing.T, clock *fakeClock, opts ...auth.IssuerOption) (*auth.CodeIssuer, *memstore.CodeStore) {
	t.Helper()
	store := memstore.NewCodeStore()
	opts = append([]auth.IssuerOption{auth.WithClock(clock.Now)}, opts...)
	issuer, err := auth.NewCodeIssuer(store, opts...)
	require.NoError(t, err)
	return issuer, store
}

func TestCodeIssuer_IssueAndValidate(t *testing.T) {
	ctx := context.Background()
	const email = "user@example.com"

	t.Run("issued code validates once", func(t *testing.T) {
		issuer, _ := newIssuer(t, newFakeClock())

		code, err := issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, err)
		assert.Len(t, code, auth.CodeDigits)

		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, code)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = issuer.Validate(ctx, email, auth.PurposeEmailVerification, code)
		require.NoError(t, err)
		assert.False(t, ok, "a consumed code must not validate again")
	})

	t.Run("only the plaintext leaves the issuer", func(t *testing.T) {
		issuer, store := newIssuer(t, newFakeClock())

		code, err := issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, err)

		stored, err := store.GetActive(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, err)
		assert.NotEqual(t, code, stored.CodeHash)
		assert.Equal(t, auth.HashCode(code), stored.CodeHash)
	})

	t.Run("reissue invalidates the previous code", func(t *testing.T) {
		codes := []string{"111111", "222222"}
		var n int
		issuer, _ := newIssuer(t, newFakeClock(), auth.WithCodeGenerator(func() (string, error) {
			c := codes[n]
			n++
			return c, nil
		}))

		_, err := issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, err)
		_, err = issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, err)

		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, "111111")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = issuer.Validate(ctx, email, auth.PurposeEmailVerification, "222222")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong code leaves the active code usable", func(t *testing.T) {
		issuer, _ := newIssuer(t, newFakeClock())

		code, err := issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, err)

		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, "not-it")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = issuer.Validate(ctx, email, auth.PurposeEmailVerification, code)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired code fails and is discarded", func(t *testing.T) {
		clock := newFakeClock()
		issuer, store := newIssuer(t, clock, auth.WithCodeTTL(time.Minute))

		code, err := issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, err)

		clock.Advance(time.Minute)
		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, code)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.GetActive(ctx, email, auth.PurposeEmailVerification)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("code for one purpose does not validate another", func(t *testing.T) {
		issuer, _ := newIssuer(t, newFakeClock())

		code, err := issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, err)

		ok, err := issuer.Validate(ctx, email, auth.PurposePasswordReset, code)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty candidate fails without touching the store", func(t *testing.T) {
		store := mocks.NewMockCodeStore(t)
		issuer, err := auth.NewCodeIssuer(store)
		require.NoError(t, err)

		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown purpose is rejected", func(t *testing.T) {
		issuer, _ := newIssuer(t, newFakeClock())

		_, err := issuer.Issue(ctx, email, auth.Purpose("bogus"))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CODE_INVALID_PURPOSE")
	})

	t.Run("ttl option", func(t *testing.T) {
		issuer, _ := newIssuer(t, newFakeClock(), auth.WithCodeTTL(5*time.Minute))
		assert.Equal(t, 5*time.Minute, issuer.TTL())

		defaulted, _ := newIssuer(t, newFakeClock(), auth.WithCodeTTL(0))
		assert.Equal(t, auth.DefaultCodeTTL, defaulted.TTL())
	})
}

func TestCodeIssuer_StoreFailures(t *testing.T) {
	ctx := context.Background()
	const email = "user@example.com"
	dbDown := errors.New("db down")

	t.Run("put failure", func(t *testing.T) {
		store := mocks.NewMockCodeStore(t)
		store.EXPECT().Put(ctx, mock.Anything).Return(dbDown)
		issuer, err := auth.NewCodeIssuer(store)
		require.NoError(t, err)

		_, err = issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.ErrorIs(t, err, dbDown)
	})

	t.Run("generator failure", func(t *testing.T) {
		store := mocks.NewMockCodeStore(t)
		issuer, err := auth.NewCodeIssuer(store, auth.WithCodeGenerator(func() (string, error) {
			return "", errors.New("entropy exhausted")
		}))
		require.NoError(t, err)

		_, err = issuer.Issue(ctx, email, auth.PurposeEmailVerification)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CODE_ISSUE_FAILED")
	})

	t.Run("lookup failure", func(t *testing.T) {
		store := mocks.NewMockCodeStore(t)
		store.EXPECT().GetActive(ctx, email, auth.PurposeEmailVerification).Return(nil, dbDown)
		issuer, err := auth.NewCodeIssuer(store)
		require.NoError(t, err)

		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, "123456")
		require.ErrorIs(t, err, dbDown)
		assert.False(t, ok)
	})

	t.Run("consumed by another instance", func(t *testing.T) {
		store := mocks.NewMockCodeStore(t)
		store.EXPECT().GetActive(ctx, email, auth.PurposeEmailVerification).Return(&auth.VerificationCode{
			Email:     email,
			Purpose:   auth.PurposeEmailVerification,
			CodeHash:  auth.HashCode("123456"),
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil)
		store.EXPECT().Consume(ctx, email, auth.PurposeEmailVerification, auth.HashCode("123456")).Return(auth.ErrNotFound)
		issuer, err := auth.NewCodeIssuer(store)
		require.NoError(t, err)

		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, "123456")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("consume failure", func(t *testing.T) {
		store := mocks.NewMockCodeStore(t)
		store.EXPECT().GetActive(ctx, email, auth.PurposeEmailVerification).Return(&auth.VerificationCode{
			CodeHash:  auth.HashCode("123456"),
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil)
		store.EXPECT().Consume(ctx, email, auth.PurposeEmailVerification, auth.HashCode("123456")).Return(dbDown)
		issuer, err := auth.NewCodeIssuer(store)
		require.NoError(t, err)

		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, "123456")
		require.ErrorIs(t, err, dbDown)
		assert.False(t, ok)
	})
}

// interleavingStore runs afterRead once, right after the first GetActive,
// to stand in for another server instance acting between read and consume.
type interleavingStore struct {
	*memstore.CodeStore
	once      sync.Once
	afterRead func()
}

func (s *interleavingStore) GetActive(ctx context.Context, email string, purpose auth.Purpose) (*auth.VerificationCode, error) {
	code, err := s.CodeStore.GetActive(ctx, email, purpose)
	s.once.Do(s.afterRead)
	return code, err
}

func TestCodeIssuer_ReplacedCodeAcrossInstances(t *testing.T) {
	ctx := context.Background()
	const email = "multi@example.com"

	shared := memstore.NewCodeStore()
	codes := []string{"111111", "222222"}
	var n int
	other, err := auth.NewCodeIssuer(shared, auth.WithCodeGenerator(func() (string, error) {
		c := codes[n]
		n++
		return c, nil
	}))
	require.NoError(t, err)

	oldCode, err := other.Issue(ctx, email, auth.PurposeEmailVerification)
	require.NoError(t, err)

	var newCode string
	store := &interleavingStore{CodeStore: shared, afterRead: func() {
		var issueErr error
		newCode, issueErr = other.Issue(ctx, email, auth.PurposeEmailVerification)
		require.NoError(t, issueErr)
	}}
	issuer, err := auth.NewCodeIssuer(store)
	require.NoError(t, err)

	ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, oldCode)
	require.NoError(t, err)
	assert.False(t, ok, "a code replaced after it was read must not validate")

	ok, err = issuer.Validate(ctx, email, auth.PurposeEmailVerification, newCode)
	require.NoError(t, err)
	assert.True(t, ok, "the newly issued code stays usable")
}

func TestCodeIssuer_ConcurrentValidateSucceedsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	const email = "race@example.com"
	issuer, _ := newIssuer(t, newFakeClock())

	code, err := issuer.Issue(ctx, email, auth.PurposeEmailVerification)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, code)
			assert.NoError(t, err)
			if ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, 0, auth.LiveLockCount(issuer), "per-key locks must be released")
}

func TestCodeIssuer_ConcurrentIssueLeavesOneActiveCode(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	const email = "issue@example.com"
	issuer, _ := newIssuer(t, newFakeClock())

	codes := make([]string, 16)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := issuer.Issue(ctx, email, auth.PurposeEmailVerification)
			assert.NoError(t, err)
			codes[i] = code
		}()
	}
	wg.Wait()

	valid := 0
	for _, code := range codes {
		ok, err := issuer.Validate(ctx, email, auth.PurposeEmailVerification, code)
		require.NoError(t, err)
		if ok {
			valid++
		}
	}
	// Codes can collide, but at most one Validate can consume the single active code.
	assert.Equal(t, 1, valid)
	assert.Equal(t, 0, auth.LiveLockCount(issuer))
}

func TestCodeIssuer_Invalidate(t *testing.T) {
	ctx := context.Background()
	const email = "user@example.com"

	t.Run("discards the active code", func(t *testing.T) {
		issuer, store := newIssuer(t, newFakeClock())
		code, err := issuer.Issue(ctx, email, auth.PurposePasswordReset)
		require.NoError(t, err)

		require.NoError(t, issuer.Invalidate(ctx, email, auth.PurposePasswordReset))

		_, err = store.GetActive(ctx, email, auth.PurposePasswordReset)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		ok, err := issuer.Validate(ctx, email, auth.PurposePasswordReset, code)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing code is fine", func(t *testing.T) {
		issuer, _ := newIssuer(t, newFakeClock())
		assert.NoError(t, issuer.Invalidate(ctx, email, auth.PurposePasswordReset))
	})

	t.Run("store failure", func(t *testing.T) {
		store := mocks.NewMockCodeStore(t)
		store.EXPECT().Consume(ctx, email, auth.PurposePasswordReset, "").Return(errors.New("db down"))
		issuer, err := auth.NewCodeIssuer(store)
		require.NoError(t, err)

		err = issuer.Invalidate(ctx, email, auth.PurposePasswordReset)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CODE_INVALIDATE_FAILED")
	})
}
