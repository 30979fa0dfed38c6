// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors used to classify failures with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidCode  = errors.New("invalid code")
	ErrDelivery     = errors.New("delivery failed")
)

// Error codes attached to typed errors.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeNotAuthenticated   = "AUTH_NOT_AUTHENTICATED"
	CodeNoSession          = "AUTH_NO_SESSION"
	CodeWrongPassword      = "AUTH_WRONG_PASSWORD"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeInvalidCode        = "AUTH_INVALID_CODE"
	CodeDeliveryFailed     = "NOTIFY_DELIVERY_FAILED"
)

// Kind is the caller-facing category of an error.
type Kind int

// Error kinds, in the order KindOf checks them.
const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindNotFound
	KindInvalidCode
	KindDelivery
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindInvalidCode:
		return "invalid_code"
	case KindDelivery:
		return "delivery"
	default:
		return "internal"
	}
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindAuth
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidCode):
		return KindInvalidCode
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	default:
		return KindInternal
	}
}

// ValidationError creates an error for missing or malformed input.
func ValidationError(field, reason string) error {
	msg := field + " " + reason
	return oops.Code(CodeValidation).
		With("field", field).
		Public(msg).
		Wrapf(ErrValidation, "%s", msg)
}

// ConflictError creates an error for an email that is already registered.
func ConflictError(cause error) error {
	builder := oops.Code(CodeEmailTaken).Public("email already registered")
	if cause != nil {
		builder = builder.With("cause", cause.Error())
	}
	return builder.Wrapf(ErrConflict, "email already registered")
}

// InvalidCredentialsError is the single error returned for unknown emails and
// wrong passwords alike.
func InvalidCredentialsError() error {
	return oops.Code(CodeInvalidCredentials).
		Public("invalid email or password").
		Wrapf(ErrUnauthorized, "invalid email or password")
}

// NotAuthenticatedError creates an error for an operation that needs a bound session.
func NotAuthenticatedError(operation string) error {
	return oops.Code(CodeNotAuthenticated).
		With("operation", operation).
		Public("not authenticated").
		Wrapf(ErrUnauthorized, "not authenticated")
}

// NoSessionError creates an error for a request that carries no session context at all.
func NoSessionError() error {
	return oops.Code(CodeNoSession).Public("no session").Wrapf(ErrUnauthorized, "no session")
}

// WrongPasswordError creates an error for a failed current-password check.
func WrongPasswordError() error {
	return oops.Code(CodeWrongPassword).
		Public("current password is incorrect").
		Wrapf(ErrUnauthorized, "current password is incorrect")
}

// UserNotFoundError creates an error for a user that no longer exists.
// key and value name the lookup that failed, e.g. "user_id".
func UserNotFoundError(key string, value any) error {
	return oops.Code(CodeUserNotFound).
		With(key, value).
		Public("user not found").
		Wrapf(ErrNotFound, "user not found")
}

// InvalidCodeError creates an error for a missing, wrong or expired code.
func InvalidCodeError(purpose Purpose) error {
	return oops.Code(CodeInvalidCode).
		With("purpose", purpose.String()).
		Public("invalid or expired code").
		Wrapf(ErrInvalidCode, "invalid or expired code")
}

// DeliveryError wraps a notifier failure.
func DeliveryError(kind string, cause error) error {
	return oops.Code(CodeDeliveryFailed).
		With("email_kind", kind).
		Public("the email could not be sent, try again later").
		Wrapf(errors.Join(ErrDelivery, cause), "failed to send %s email", kind)
}
