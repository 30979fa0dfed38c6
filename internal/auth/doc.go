// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

// Package auth provides session-based account authentication.
//
// # Services
//
//   - Service - registration, login, logout, profile, email verification
//     and password reset
//   - SessionManager - anonymous/authenticated session transitions
//   - CodeIssuer - one-time verification codes with per-email serialization
//
// Services are created with New* constructors that validate dependencies.
//
// # Ports
//
// UserRepository, SessionStore and CodeStore are implemented by the memstore,
// postgres and redis subpackages. Notifier is implemented by internal/notify.
//
// # Errors
//
// Every caller-facing failure wraps one of the sentinel errors in errors.go;
// use KindOf to classify it.
package auth
