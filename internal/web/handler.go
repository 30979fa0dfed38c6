// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

// Package web exposes the auth operations as a JSON HTTP API with
// cookie-carried sessions.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/internal/observability"
)

// AuthService is the set of auth operations served over HTTP.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput, current *auth.Session) (*auth.Session, error)
	Login(ctx context.Context, email, password string, current *auth.Session) (*auth.Session, error)
	Logout(ctx context.Context, current *auth.Session) (*auth.Session, error)
	IsAuthenticated(current *auth.Session) *auth.SessionUser
	GetProfile(ctx context.Context, current *auth.Session) (*auth.Profile, error)
	RequestEmailVerification(ctx context.Context, email string) error
	ConfirmEmailVerification(ctx context.Context, email, code string) error
	RequestPasswordReset(ctx context.Context, email string) error
	UpdateProfile(ctx context.Context, current *auth.Session, currentPassword string, upd auth.ProfileUpdate) error
}

// SessionLoader resolves a client-presented session id.
type SessionLoader interface {
	Load(ctx context.Context, id string) (*auth.Session, error)
}

// Compile-time checks.
var (
	_ AuthService   = (*auth.Service)(nil)
	_ SessionLoader = (*auth.SessionManager)(nil)
)

// Handler serves the auth routes.
type Handler struct {
	svc          AuthService
	sessions     SessionLoader
	logger       *slog.Logger
	metrics      *observability.Metrics
	secureCookie bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records every request in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithSecureCookie marks the session cookie Secure (HTTPS only).
func WithSecureCookie(secure bool) Option {
	return func(h *Handler) { h.secureCookie = secure }
}

// NewHandler creates a Handler.
func NewHandler(svc AuthService, sessions SessionLoader, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("auth service is required")
	}
	if sessions == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("session loader is required")
	}
	h := &Handler{svc: svc, sessions: sessions, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Router builds the gin engine serving every auth route.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(h.observe, gin.CustomRecovery(h.recover))

	g := r.Group("/auth", h.loadSession)
	g.POST("/register", h.register)
	g.POST("/login", h.login)
	g.POST("/logout", h.logout)
	g.GET("/session", h.session)
	g.GET("/profile", h.getProfile)
	g.PUT("/profile", h.updateProfile)
	g.POST("/email-verification", h.requestEmailVerification)
	g.POST("/email-verification/confirm", h.confirmEmailVerification)
	g.POST("/password-reset", h.requestPasswordReset)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Message: "route not found", Kind: auth.KindNotFound.String()})
	})
	return r
}

// observe records route, status and latency of every request.
func (h *Handler) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	status := c.Writer.Status()
	h.metrics.ObserveRequest(route, status, time.Since(start))
	h.logger.DebugContext(c.Request.Context(), "request served",
		"method", c.Request.Method,
		"route", route,
		"status", status,
		"duration", time.Since(start))
}

func (h *Handler) recover(c *gin.Context, recovered any) {
	h.writeError(c, oops.Code("WEB_PANIC").
		With("route", c.FullPath()).
		Errorf("panic: %v", recovered))
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type updateProfileRequest struct {
	CurrentPassword string `json:"currentPassword"`
	auth.ProfileUpdate
}

type userResponse struct {
	Message string            `json:"message"`
	User    *auth.SessionUser `json:"user,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// bind decodes the JSON body into dst, writing a validation error on failure.
func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.writeError(c, auth.ValidationError("body", "must be a valid JSON object"))
		return false
	}
	return true
}

func (h *Handler) register(c *gin.Context) {
	var in auth.RegisterInput
	if !h.bind(c, &in) {
		return
	}

	session, err := h.svc.Register(c.Request.Context(), in, currentSession(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setSessionCookie(c, session)
	c.JSON(http.StatusCreated, userResponse{Message: "user registered", User: session.User})
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if !h.bind(c, &req) {
		return
	}

	session, err := h.svc.Login(c.Request.Context(), req.Email, req.Password, currentSession(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setSessionCookie(c, session)
	c.JSON(http.StatusOK, userResponse{Message: "logged in", User: session.User})
}

func (h *Handler) logout(c *gin.Context) {
	if _, err := h.svc.Logout(c.Request.Context(), currentSession(c)); err != nil {
		h.writeError(c, err)
		return
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) session(c *gin.Context) {
	user := h.svc.IsAuthenticated(currentSession(c))
	if user == nil {
		h.writeError(c, auth.NotAuthenticatedError("is_authenticated"))
		return
	}
	c.JSON(http.StatusOK, userResponse{Message: "user is authenticated", User: user})
}

func (h *Handler) getProfile(c *gin.Context) {
	profile, err := h.svc.GetProfile(c.Request.Context(), currentSession(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !h.bind(c, &req) {
		return
	}

	err := h.svc.UpdateProfile(c.Request.Context(), currentSession(c), req.CurrentPassword, req.ProfileUpdate)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "profile updated"})
}

func (h *Handler) requestEmailVerification(c *gin.Context) {
	var req emailRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.svc.RequestEmailVerification(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, messageResponse{Message: "if the address is registered, a code was sent"})
}

func (h *Handler) confirmEmailVerification(c *gin.Context) {
	var req confirmRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.svc.ConfirmEmailVerification(c.Request.Context(), req.Email, req.Code); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "email verified"})
}

func (h *Handler) requestPasswordReset(c *gin.Context) {
	var req emailRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, messageResponse{Message: "if the address is registered, a new password was sent"})
}
