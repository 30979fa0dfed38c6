// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Heur-a/servidor/internal/observability"
	"github.com/Heur-a/servidor/pkg/errutil"
)

var tracer = otel.Tracer("servidor/auth")

// Operation names used for spans and metrics.
const (
	OpRegister                 = "register"
	OpLogin                    = "login"
	OpLogout                   = "logout"
	OpGetProfile               = "get_profile"
	OpRequestEmailVerification = "request_email_verification"
	OpConfirmEmailVerification = "confirm_email_verification"
	OpRequestPasswordReset     = "request_password_reset"
	OpUpdateProfile            = "update_profile"
)

// Notifier delivers verification codes and reset passwords by email.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, code string) error
	SendPasswordResetEmail(ctx context.Context, email, newPassword string) error
}

// dummyPasswordHash is verified against when a user doesn't exist so the
// response time matches the wrong-password path. It never matches any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service provides the authentication operations.
type Service struct {
	users       UserRepository
	sessions    *SessionManager
	codes       *CodeIssuer
	notifier    Notifier
	hasher      PasswordHasher
	logger      *slog.Logger
	validate    *validator.Validate
	newPassword func() (string, error)
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPasswordGenerator overrides how reset passwords are generated.
func WithPasswordGenerator(gen func() (string, error)) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.newPassword = gen
		}
	}
}

// NewAuthService creates a new Service.
func NewAuthService(
	users UserRepository,
	sessions *SessionManager,
	issuer *CodeIssuer,
	notifier Notifier,
	hasher PasswordHasher,
	opts ...ServiceOption,
) (*Service, error) {
	switch {
	case users == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	case sessions == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session manager is required")
	case issuer == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("code issuer is required")
	case notifier == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("notifier is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}

	s := &Service{
		users:       users,
		sessions:    sessions,
		codes:       issuer,
		notifier:    notifier,
		hasher:      hasher,
		logger:      slog.Default(),
		validate:    newValidator(),
		newPassword: GeneratePassword,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an unverified standard user and returns a session bound to it.
// No verification email is sent.
func (s *Service) Register(ctx context.Context, in RegisterInput, current *Session) (_ *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, OpRegister, err) }()

	in.Email = NormalizeEmail(in.Email)
	if err := validateStruct(s.validate, in); err != nil {
		return nil, err
	}

	_, lookupErr := s.users.GetByEmail(ctx, in.Email)
	if lookupErr == nil {
		return nil, ConflictError(nil)
	}
	if !errors.Is(lookupErr, ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	now := s.now()
	user := &User{
		ID:           ulid.Make(),
		Email:        in.Email,
		Name:         strings.TrimSpace(in.Name),
		LastName1:    strings.TrimSpace(in.LastName1),
		LastName2:    strings.TrimSpace(in.LastName2),
		Tel:          strings.TrimSpace(in.Tel),
		PasswordHash: hash,
		UserType:     UserTypeStandard,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ConflictError(err)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	session, err := s.sessions.Bind(ctx, current, user.Snapshot())
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "bind session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return session, nil
}

// Login verifies credentials and binds the session to the user, replacing any
// previous binding. Unknown emails and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, email, password string, current *Session) (_ *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(span, OpLogin, err) }()

	email = NormalizeEmail(email)
	if email == "" {
		return nil, ValidationError("email", "is required")
	}
	if password == "" {
		return nil, ValidationError("password", "is required")
	}

	user, lookupErr := s.users.GetByEmail(ctx, email)

	targetHash := dummyPasswordHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify so both failure paths cost the same.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return nil, InvalidCredentialsError()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}
	if !userExists || !valid {
		return nil, InvalidCredentialsError()
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	session, err := s.sessions.Bind(ctx, current, user.Snapshot())
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "bind session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return session, nil
}

// upgradeHash re-hashes a verified password with the current parameters.
// Failures are logged; login succeeds regardless.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "failed to re-hash password", err, "user_id", user.ID.String())
		return
	}
	upgraded := *user
	upgraded.PasswordHash = newHash
	upgraded.UpdatedAt = s.now()
	if err := s.users.Update(ctx, &upgraded); err != nil {
		errutil.LogWarn(ctx, s.logger, "failed to store upgraded password hash", err, "user_id", user.ID.String())
	}
}

// Logout clears the session binding and returns the anonymous session.
// Logging out an anonymous session succeeds; only a missing session fails.
func (s *Service) Logout(ctx context.Context, current *Session) (_ *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.Logout")
	defer func() { s.finish(span, OpLogout, err) }()

	if current == nil {
		return nil, NoSessionError()
	}

	cleared, err := s.sessions.Clear(ctx, current)
	if err != nil {
		return nil, oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "clear session").
			Wrap(err)
	}
	return cleared, nil
}

// IsAuthenticated returns the user bound to the session, or nil.
func (s *Service) IsAuthenticated(current *Session) *SessionUser {
	return s.sessions.Current(current)
}

// GetProfile returns the profile of the session user.
func (s *Service) GetProfile(ctx context.Context, current *Session) (_ *Profile, err error) {
	ctx, span := tracer.Start(ctx, "auth.GetProfile")
	defer func() { s.finish(span, OpGetProfile, err) }()

	bound := s.sessions.Current(current)
	if bound == nil {
		return nil, NotAuthenticatedError(OpGetProfile)
	}
	span.SetAttributes(attribute.String("user.id", bound.ID.String()))

	user, err := s.users.GetByEmail(ctx, bound.Email)
	if errors.Is(err, ErrNotFound) {
		return nil, UserNotFoundError("user_id", bound.ID.String())
	}
	if err != nil {
		return nil, oops.Code("AUTH_GET_PROFILE_FAILED").
			With("operation", "get user by email").
			With("user_id", bound.ID.String()).
			Wrap(err)
	}
	return user.Profile(), nil
}

// RequestEmailVerification issues a verification code for the email and sends
// it. Unknown emails succeed without side effects.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.RequestEmailVerification")
	defer func() { s.finish(span, OpRequestEmailVerification, err) }()

	email = NormalizeEmail(email)
	if err := validateEmail(s.validate, email); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.logger.DebugContext(ctx, "email verification requested for unknown address")
		return nil
	}
	if err != nil {
		return oops.Code("AUTH_VERIFICATION_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	code, err := s.codes.Issue(ctx, email, PurposeEmailVerification)
	if err != nil {
		return oops.Code("AUTH_VERIFICATION_REQUEST_FAILED").
			With("operation", "issue code").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err := s.notifier.SendVerificationEmail(ctx, email, code); err != nil {
		return asDeliveryError("verification", err)
	}
	return nil
}

// ConfirmEmailVerification consumes a matching verification code and marks
// the user's email as verified.
func (s *Service) ConfirmEmailVerification(ctx context.Context, email, code string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.ConfirmEmailVerification")
	defer func() { s.finish(span, OpConfirmEmailVerification, err) }()

	email = NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" {
		return ValidationError("email", "is required")
	}
	if code == "" {
		return ValidationError("code", "is required")
	}

	ok, err := s.codes.Validate(ctx, email, PurposeEmailVerification, code)
	if err != nil {
		return oops.Code("AUTH_VERIFICATION_CONFIRM_FAILED").
			With("operation", "validate code").
			Wrap(err)
	}
	if !ok {
		return InvalidCodeError(PurposeEmailVerification)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return UserNotFoundError("email", email)
	}
	if err != nil {
		return oops.Code("AUTH_VERIFICATION_CONFIRM_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	if user.EmailVerified {
		return nil
	}
	verified := *user
	verified.EmailVerified = true
	verified.UpdatedAt = s.now()
	if err := s.users.Update(ctx, &verified); err != nil {
		return oops.Code("AUTH_VERIFICATION_CONFIRM_FAILED").
			With("operation", "update user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// RequestPasswordReset replaces the user's password with a generated one,
// revokes the user's sessions and emails the new password once. If delivery
// fails the new password stays in effect and a DeliveryError is returned.
// Unknown emails succeed without side effects.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.RequestPasswordReset")
	defer func() { s.finish(span, OpRequestPasswordReset, err) }()

	email = NormalizeEmail(email)
	if err := validateEmail(s.validate, email); err != nil {
		return err
	}

	unlock := s.codes.Lock(email, PurposePasswordReset)
	defer unlock()

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.logger.DebugContext(ctx, "password reset requested for unknown address")
		return nil
	}
	if err != nil {
		return oops.Code("AUTH_PASSWORD_RESET_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))

	password, err := s.newPassword()
	if err != nil {
		return oops.Code("AUTH_PASSWORD_RESET_FAILED").
			With("operation", "generate password").
			Wrap(err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("AUTH_PASSWORD_RESET_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	reset := *user
	reset.PasswordHash = hash
	reset.UpdatedAt = s.now()
	if err := s.users.Update(ctx, &reset); err != nil {
		return oops.Code("AUTH_PASSWORD_RESET_FAILED").
			With("operation", "update user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err := s.sessions.RevokeUser(ctx, user.ID); err != nil {
		errutil.LogWarn(ctx, s.logger, "failed to revoke sessions after password reset", err,
			"user_id", user.ID.String())
	}
	if err := s.codes.Invalidate(ctx, email, PurposePasswordReset); err != nil {
		errutil.LogWarn(ctx, s.logger, "failed to clear password reset code", err,
			"user_id", user.ID.String())
	}

	if err := s.notifier.SendPasswordResetEmail(ctx, email, password); err != nil {
		s.logger.WarnContext(ctx, "password was reset but the email could not be sent",
			"user_id", user.ID.String())
		return asDeliveryError("password reset", err)
	}
	return nil
}

// UpdateProfile applies the non-nil fields of upd to the session user after
// re-checking the current password. The email is never changed. Nothing is
// written when any check fails.
func (s *Service) UpdateProfile(ctx context.Context, current *Session, currentPassword string, upd ProfileUpdate) (err error) {
	ctx, span := tracer.Start(ctx, "auth.UpdateProfile")
	defer func() { s.finish(span, OpUpdateProfile, err) }()

	bound := s.sessions.Current(current)
	if bound == nil {
		return NotAuthenticatedError(OpUpdateProfile)
	}
	span.SetAttributes(attribute.String("user.id", bound.ID.String()))

	if currentPassword == "" {
		return ValidationError("currentPassword", "is required")
	}
	upd = upd.trimmed()
	if err := validateStruct(s.validate, upd); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, bound.ID)
	if errors.Is(err, ErrNotFound) {
		return UserNotFoundError("user_id", bound.ID.String())
	}
	if err != nil {
		return oops.Code("AUTH_UPDATE_PROFILE_FAILED").
			With("operation", "get user by id").
			With("user_id", bound.ID.String()).
			Wrap(err)
	}

	valid, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_UPDATE_PROFILE_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !valid {
		return WrongPasswordError()
	}

	if upd.IsEmpty() {
		return nil
	}

	updated := *user
	upd.apply(&updated)
	if upd.Password != nil {
		hash, err := s.hasher.Hash(*upd.Password)
		if err != nil {
			return oops.Code("AUTH_UPDATE_PROFILE_FAILED").
				With("operation", "hash password").
				Wrap(err)
		}
		updated.PasswordHash = hash
	}
	updated.UpdatedAt = s.now()

	if err := s.users.Update(ctx, &updated); err != nil {
		return oops.Code("AUTH_UPDATE_PROFILE_FAILED").
			With("operation", "update user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// finish records the outcome of an operation on its span and in metrics.
func (s *Service) finish(span trace.Span, op string, err error) {
	defer span.End()

	outcome := "success"
	if err != nil {
		kind := KindOf(err)
		outcome = kind.String()
		span.SetAttributes(attribute.String("auth.error_kind", outcome))
		if kind == KindInternal || kind == KindDelivery {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	observability.RecordAuthOperation(op, outcome)
}

// asDeliveryError makes sure a notifier failure classifies as KindDelivery.
func asDeliveryError(kind string, err error) error {
	if errors.Is(err, ErrDelivery) {
		return err
	}
	return DeliveryError(kind, err)
}
