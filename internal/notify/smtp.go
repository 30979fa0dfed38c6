// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

// Package notify delivers auth emails over SMTP.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/textproto"
	"time"

	"github.com/sethvargo/go-retry"
	"gopkg.in/gomail.v2"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/internal/observability"
)

// Email kinds, used as the metrics label and in delivery errors.
const (
	KindVerification  = "verification"
	KindPasswordReset = "password reset"
)

// Retry defaults. Sends fail on the first error unless retries are configured.
const (
	DefaultRetries      = 0
	DefaultRetryBackoff = 250 * time.Millisecond
)

// Sender sends composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig holds the SMTP server and envelope settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AppName  string
}

// SMTPNotifier implements auth.Notifier with gomail.
type SMTPNotifier struct {
	sender   Sender
	from     string
	appName  string
	codeTTL  time.Duration
	attempts uint64
	backoff  time.Duration
	logger   *slog.Logger
}

// Option configures an SMTPNotifier.
type Option func(*SMTPNotifier)

// WithSender replaces the gomail dialer.
func WithSender(s Sender) Option {
	return func(n *SMTPNotifier) { n.sender = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *SMTPNotifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithCodeTTL sets the code lifetime quoted in verification emails.
func WithCodeTTL(d time.Duration) Option {
	return func(n *SMTPNotifier) { n.codeTTL = d }
}

// WithRetries sets how many times a transient failure is retried and the
// base backoff between attempts.
func WithRetries(n uint64, backoff time.Duration) Option {
	return func(s *SMTPNotifier) {
		s.attempts = n
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// NewSMTPNotifier creates a notifier for cfg.
func NewSMTPNotifier(cfg SMTPConfig, opts ...Option) *SMTPNotifier {
	appName := cfg.AppName
	if appName == "" {
		appName = "Servidor"
	}
	n := &SMTPNotifier{
		sender:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		appName:  appName,
		codeTTL:  auth.DefaultCodeTTL,
		attempts: DefaultRetries,
		backoff:  DefaultRetryBackoff,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SendVerificationEmail emails a verification code.
func (n *SMTPNotifier) SendVerificationEmail(ctx context.Context, email, code string) error {
	subject := n.appName + ": verify your email"
	text := fmt.Sprintf("Your verification code is %s.\nIt expires in %s.\n", code, n.codeTTL)
	body := fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %s.</p>",
		html.EscapeString(code), n.codeTTL)
	return n.send(ctx, KindVerification, email, subject, text, body)
}

// SendPasswordResetEmail emails a newly generated password.
func (n *SMTPNotifier) SendPasswordResetEmail(ctx context.Context, email, newPassword string) error {
	subject := n.appName + ": your password was reset"
	text := fmt.Sprintf("Your new password is %s\nSign in and change it from your profile.\n", newPassword)
	body := fmt.Sprintf("<p>Your new password is <strong>%s</strong></p><p>Sign in and change it from your profile.</p>",
		html.EscapeString(newPassword))
	return n.send(ctx, KindPasswordReset, email, subject, text, body)
}

func (n *SMTPNotifier) send(ctx context.Context, kind, to, subject, text, body string) (err error) {
	defer func() { observability.RecordEmailDelivery(kind, err) }()

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", body)

	backoff := retry.WithMaxRetries(n.attempts, retry.NewExponential(n.backoff))
	err = retry.Do(ctx, backoff, func(context.Context) error {
		if err := n.sender.DialAndSend(m); err != nil {
			if isPermanent(err) {
				return err
			}
			n.logger.Warn("email send failed, retrying", "kind", kind, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return auth.DeliveryError(kind, err)
	}
	n.logger.Debug("email sent", "kind", kind)
	return nil
}

// isPermanent reports whether the SMTP server rejected the message with a
// 5xx reply, which retrying cannot fix.
func isPermanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

var _ auth.Notifier = (*SMTPNotifier)(nil)
