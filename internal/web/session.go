// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Heur-a/servidor/internal/auth"
)

// CookieName is the name of the session cookie.
const CookieName = "sid"

const sessionKey = "servidor.session"

// loadSession resolves the session cookie before every handler. Unknown and
// expired ids resolve to an anonymous session.
func (h *Handler) loadSession(c *gin.Context) {
	id, err := c.Cookie(CookieName)
	if err != nil {
		id = ""
	}

	session, err := h.sessions.Load(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Set(sessionKey, session)
	c.Next()
}

// currentSession returns the session loaded for this request.
func currentSession(c *gin.Context) *auth.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(*auth.Session)
	return s
}

// setSessionCookie issues the cookie for an authenticated session.
func (h *Handler) setSessionCookie(c *gin.Context, s *auth.Session) {
	maxAge := int(time.Until(s.ExpiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie tells the client to drop its session cookie.
func (h *Handler) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
