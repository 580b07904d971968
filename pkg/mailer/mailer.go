package mailer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/noah-isme/academix-api/pkg/config"
)

// Message is a rendered e-mail ready for delivery.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers messages through an SMTP relay using gomail.
type SMTPSender struct {
	fromAddress string
	fromName    string
	dial        func() (gomail.SendCloser, error)
}

// NewSMTPSender builds a sender from configuration.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPSender{
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		dial:        dialer.Dial,
	}
}

// Send opens one SMTP connection per message.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("recipient address required")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.fromAddress, s.fromName)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	conn, err := s.dial()
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	if err := gomail.Send(conn, m); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// LogSender records messages in the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender returns a sender used when SMTP is disabled.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the envelope of the message.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("mail delivery skipped (smtp disabled)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.HTML)),
	)
	return nil
}

// NewSender picks the SMTP or log sender based on configuration.
func NewSender(cfg config.MailConfig, logger *zap.Logger) Sender {
	if cfg.Enabled {
		return NewSMTPSender(cfg)
	}
	return NewLogSender(logger)
}

// Mailer renders templates and hands the result to a Sender.
type Mailer struct {
	renderer *Renderer
	sender   Sender
}

// New builds a Mailer.
func New(renderer *Renderer, sender Sender) *Mailer {
	return &Mailer{renderer: renderer, sender: sender}
}

// Send renders tmpl with data and delivers it to the recipient.
func (m *Mailer) Send(ctx context.Context, to, toName string, tmpl Template, data interface{}) error {
	subject, body, err := m.renderer.Render(tmpl, data)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{To: to, ToName: toName, Subject: subject, HTML: body})
}
