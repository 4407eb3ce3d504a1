// Package email sends transactional email through Resend.
package email

import (
	"context"
	"fmt"
	"sync"

	"github.com/resendlabs/resend-go"
	"go.uber.org/zap"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendSender is the Sender backed by the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a Resend-backed sender
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Send delivers msg. The Resend client has no context support, so ctx is
// only checked before the call.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		Headers: msg.Headers,
	}
	if _, err := s.client.Emails.Send(req); err != nil {
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}
	return nil
}

// NoopSender logs messages instead of sending them. It is used when no
// Resend API key is configured.
type NoopSender struct {
	log *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewNoopSender creates a sender that only logs
func NewNoopSender(log *zap.Logger) *NoopSender {
	return &NoopSender{log: log.Named("email")}
}

// Send records msg.
func (s *NoopSender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	s.log.Info("email delivery disabled, dropping message",
		zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// Sent returns the recorded messages.
func (s *NoopSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}
