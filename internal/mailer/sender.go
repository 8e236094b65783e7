package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

var ErrSendFailed = errors.New("email provider rejected the message")

type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers a single transactional email
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type resendSender struct {
	client *resend.Client
}

// NewResendSender creates a sender backed by the Resend API
func NewResendSender(apiKey string) Sender {
	return &resendSender{client: resend.NewClient(apiKey)}
}

func (s *resendSender) Send(ctx context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}

	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

type logSender struct {
	log zerolog.Logger
}

// NewLogSender returns a sender that only logs the subject line. Used when no
// provider key is configured.
func NewLogSender(logger zerolog.Logger) Sender {
	return &logSender{log: logger}
}

func (s *logSender) Send(_ context.Context, msg Message) error {
	s.log.Info().Str("subject", msg.Subject).Msg("email delivery disabled, message dropped")
	return nil
}
