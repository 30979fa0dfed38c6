// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/internal/auth/postgres"
	"github.com/Heur-a/servidor/internal/store"
	"github.com/Heur-a/servidor/internal/web"
)

// outbox captures outgoing email in place of SMTP.
type outbox struct {
	mu        sync.Mutex
	codes     map[string]string
	passwords map[string]string
}

func (o *outbox) SendVerificationEmail(_ context.Context, email, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[email] = code
	return nil
}

func (o *outbox) SendPasswordResetEmail(_ context.Context, email, password string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passwords[email] = password
	return nil
}

func (o *outbox) code(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[email]
}

func (o *outbox) password(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.passwords[email]
}

// browser is an HTTP client that keeps the session cookie.
type browser struct {
	base   string
	client *http.Client
}

func newBrowser(base string) *browser {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &browser{base: base, client: &http.Client{Jar: jar, Timeout: 10 * time.Second}}
}

func (b *browser) call(method, path string, body any) (int, map[string]any) {
	GinkgoHelper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.base+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var payload map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
	return resp.StatusCode, payload
}

var _ = Describe("Auth API over PostgreSQL", Ordered, func() {
	var (
		ctx       context.Context
		container *tcpostgres.PostgresContainer
		pool      *pgxpool.Pool
		server    *httptest.Server
		mail      *outbox
	)

	BeforeAll(func() {
		ctx = context.Background()
		gin.SetMode(gin.TestMode)

		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("servidor_test"),
			tcpostgres.WithUsername("servidor"),
			tcpostgres.WithPassword("servidor"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.WithMaxConns(4))
		Expect(err).NotTo(HaveOccurred())

		sessions, err := auth.NewSessionManager(postgres.NewSessionRepository(pool), time.Hour)
		Expect(err).NotTo(HaveOccurred())
		issuer, err := auth.NewCodeIssuer(postgres.NewCodeRepository(pool))
		Expect(err).NotTo(HaveOccurred())
		mail = &outbox{codes: map[string]string{}, passwords: map[string]string{}}
		logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))
		svc, err := auth.NewAuthService(postgres.NewUserRepository(pool), sessions, issuer, mail,
			auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32}),
			auth.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())

		handler, err := web.NewHandler(svc, sessions, web.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		server = httptest.NewServer(handler.Router())
	})

	AfterAll(func() {
		if server != nil {
			server.Close()
		}
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	const email = "ana@example.com"

	It("registers and signs the user in", func() {
		b := newBrowser(server.URL)
		status, body := b.call(http.MethodPost, "/auth/register", map[string]string{
			"email": email, "password": "correct horse", "name": "Ana", "lastName1": "García",
		})
		Expect(status).To(Equal(http.StatusCreated))
		Expect(body["user"]).To(HaveKeyWithValue("email", email))

		status, _ = b.call(http.MethodGet, "/auth/session", nil)
		Expect(status).To(Equal(http.StatusOK))
	})

	It("rejects a second registration of the same email", func() {
		status, body := newBrowser(server.URL).call(http.MethodPost, "/auth/register", map[string]string{
			"email": "ANA@example.com", "password": "another one",
		})
		Expect(status).To(Equal(http.StatusConflict))
		Expect(body).To(HaveKeyWithValue("kind", "conflict"))
	})

	It("logs in and out", func() {
		b := newBrowser(server.URL)
		status, body := b.call(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": "wrong"})
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body).To(HaveKeyWithValue("message", "invalid email or password"))

		status, _ = b.call(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": "correct horse"})
		Expect(status).To(Equal(http.StatusOK))

		status, body = b.call(http.MethodGet, "/auth/profile", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("lastName1", "García"))
		Expect(body).To(HaveKeyWithValue("emailVerified", false))

		status, _ = b.call(http.MethodPost, "/auth/logout", nil)
		Expect(status).To(Equal(http.StatusOK))
		status, _ = b.call(http.MethodGet, "/auth/session", nil)
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("verifies the email with the mailed code once", func() {
		b := newBrowser(server.URL)
		status, _ := b.call(http.MethodPost, "/auth/email-verification", map[string]string{"email": email})
		Expect(status).To(Equal(http.StatusAccepted))
		code := mail.code(email)
		Expect(code).To(HaveLen(auth.CodeDigits))

		status, _ = b.call(http.MethodPost, "/auth/email-verification/confirm", map[string]string{"email": email, "code": code})
		Expect(status).To(Equal(http.StatusOK))

		status, body := b.call(http.MethodPost, "/auth/email-verification/confirm", map[string]string{"email": email, "code": code})
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body).To(HaveKeyWithValue("kind", "invalid_code"))

		b.call(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": "correct horse"})
		_, body = b.call(http.MethodGet, "/auth/profile", nil)
		Expect(body).To(HaveKeyWithValue("emailVerified", true))
	})

	It("updates the profile only with the current password", func() {
		b := newBrowser(server.URL)
		status, _ := b.call(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": "correct horse"})
		Expect(status).To(Equal(http.StatusOK))

		status, _ = b.call(http.MethodPut, "/auth/profile", map[string]string{"currentPassword": "nope", "tel": "600000000"})
		Expect(status).To(Equal(http.StatusUnauthorized))

		status, _ = b.call(http.MethodPut, "/auth/profile", map[string]string{"currentPassword": "correct horse", "tel": "600000000"})
		Expect(status).To(Equal(http.StatusOK))

		_, body := b.call(http.MethodGet, "/auth/profile", nil)
		Expect(body).To(HaveKeyWithValue("tel", "600000000"))
	})

	It("resets the password and ends existing sessions", func() {
		signedIn := newBrowser(server.URL)
		status, _ := signedIn.call(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": "correct horse"})
		Expect(status).To(Equal(http.StatusOK))

		status, _ = newBrowser(server.URL).call(http.MethodPost, "/auth/password-reset", map[string]string{"email": email})
		Expect(status).To(Equal(http.StatusAccepted))
		generated := mail.password(email)
		Expect(generated).NotTo(BeEmpty())

		status, _ = signedIn.call(http.MethodGet, "/auth/session", nil)
		Expect(status).To(Equal(http.StatusUnauthorized))

		b := newBrowser(server.URL)
		status, _ = b.call(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": "correct horse"})
		Expect(status).To(Equal(http.StatusUnauthorized))
		status, _ = b.call(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": generated})
		Expect(status).To(Equal(http.StatusOK))
	})

	It("purges expired rows", func() {
		status, _ := newBrowser(server.URL).call(http.MethodPost, "/auth/email-verification", map[string]string{"email": email})
		Expect(status).To(Equal(http.StatusAccepted))

		codes, err := postgres.NewCodeRepository(pool).DeleteExpired(ctx, time.Now().Add(24*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(codes).To(BeNumerically(">=", 1))

		sessions, err := postgres.NewSessionRepository(pool).DeleteExpired(ctx, time.Now().Add(24*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(BeNumerically(">=", 1))
	})
})
