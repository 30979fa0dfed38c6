// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package auth

import "time"

// LiveLockCount returns the number of (email, purpose) keys with a live mutex.
func LiveLockCount(i *CodeIssuer) int {
	return i.locks.size()
}

// SetSessionClock overrides the SessionManager time source.
func SetSessionClock(m *SessionManager, now func() time.Time) {
	m.now = now
}
