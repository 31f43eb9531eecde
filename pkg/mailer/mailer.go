package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Message is a single-recipient transactional e-mail.
type Message struct {
	ToEmail   string
	ToName    string
	Subject   string
	PlainText string
	HTML      string
}

// Mailer delivers transactional e-mail.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config configures the SendGrid sender identity.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// New returns a SendGrid mailer, or a logging mailer when no API key is configured.
func New(cfg Config, logger *zap.Logger) Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn("sendgrid api key missing, e-mails will only be logged")
		return &LogMailer{logger: logger}
	}
	return &SendGridMailer{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
	logger *zap.Logger
}

// Send delivers msg; non-2xx responses are errors.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if msg.ToEmail == "" {
		return fmt.Errorf("recipient required")
	}
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	payload := mail.NewSingleEmail(m.from, msg.Subject, to, msg.PlainText, msg.HTML)

	resp, err := m.client.SendWithContext(ctx, payload)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, truncate(resp.Body, 256))
	}
	m.logger.Debug("email sent", zap.String("subject", msg.Subject), zap.Int("status", resp.StatusCode))
	return nil
}

// LogMailer records e-mails instead of sending them. Bodies are not logged.
type LogMailer struct {
	logger *zap.Logger
}

// Send logs the envelope of msg.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email suppressed", zap.String("to", msg.ToEmail), zap.String("subject", msg.Subject))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
