package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/gomail.v2"

	"github.com/noah-isme/academix-api/pkg/config"
)

type fakeSendCloser struct {
	from   string
	to     []string
	raw    bytes.Buffer
	closed bool
	err    error
}

func (f *fakeSendCloser) Send(from string, to []string, msg io.WriterTo) error {
	if f.err != nil {
		return f.err
	}
	f.from = from
	f.to = to
	_, err := msg.WriteTo(&f.raw)
	return err
}

func (f *fakeSendCloser) Close() error {
	f.closed = true
	return nil
}

func TestRendererRendersEveryTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	subject, body, err := r.Render(TemplateEnrollment, EnrollmentData{StudentName: "alice", CourseTitle: "Go & Rust", CourseID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "Enrollment Confirmation for Go & Rust", subject)
	assert.Contains(t, body, "Go &amp; Rust")
	assert.Contains(t, body, "c-1")
	assert.Contains(t, body, "2026")

	subject, body, err = r.Render(TemplatePasswordReset, PasswordResetData{Name: "bob", ResetURL: "https://app/reset?token=abc", ExpiresIn: 10 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "Your password reset token (valid for 10m0s)", subject)
	assert.Contains(t, body, "https://app/reset?token=abc")

	_, body, err = r.Render(TemplateWelcome, WelcomeData{Name: "<script>"})
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")

	_, _, err = r.Render(TemplatePaymentLink, PaymentLinkData{Name: "c", CourseTitle: "Go", CheckoutURL: "https://checkout.stripe.com/x"})
	require.NoError(t, err)

	_, _, err = r.Render(Template("unknown"), nil)
	assert.Error(t, err)
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	conn := &fakeSendCloser{}
	sender := NewSMTPSender(config.MailConfig{FromAddress: "no-reply@academix.io", FromName: "Team Academix"})
	sender.dial = func() (gomail.SendCloser, error) { return conn, nil }

	err := sender.Send(context.Background(), Message{To: "alice@example.com", ToName: "alice", Subject: "Hello", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, "no-reply@academix.io", conn.from)
	assert.Equal(t, []string{"alice@example.com"}, conn.to)
	assert.Contains(t, conn.raw.String(), "Subject: Hello")
	assert.True(t, conn.closed)
}

func TestSMTPSenderPropagatesFailures(t *testing.T) {
	sender := NewSMTPSender(config.MailConfig{FromAddress: "no-reply@academix.io"})
	sender.dial = func() (gomail.SendCloser, error) { return nil, errors.New("connection refused") }
	err := sender.Send(context.Background(), Message{To: "alice@example.com", Subject: "x"})
	assert.ErrorContains(t, err, "connection refused")

	sender.dial = func() (gomail.SendCloser, error) { return &fakeSendCloser{err: errors.New("550 mailbox")}, nil }
	err = sender.Send(context.Background(), Message{To: "alice@example.com", Subject: "x"})
	assert.ErrorContains(t, err, "550 mailbox")

	err = sender.Send(context.Background(), Message{Subject: "x"})
	assert.Error(t, err)
}

func TestMailerUsesLogSenderWhenDisabled(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sender := NewSender(config.MailConfig{Enabled: false}, zap.New(core))
	_, ok := sender.(*LogSender)
	require.True(t, ok)

	r, err := NewRenderer()
	require.NoError(t, err)
	m := New(r, sender)
	require.NoError(t, m.Send(context.Background(), "alice@example.com", "alice", TemplateWelcome, WelcomeData{Name: "alice"}))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "alice@example.com", entries[0].ContextMap()["to"])
	assert.Equal(t, "Welcome to Academix!", entries[0].ContextMap()["subject"])
}
