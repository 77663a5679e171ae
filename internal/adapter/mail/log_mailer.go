package mail

import (
	"context"

	"mindwell-platform/internal/core/ports"

	"github.com/rs/zerolog"
)

// LogMailer is a MailSender that writes outgoing mail to the structured
// log instead of an SMTP relay. Used in development and in environments
// where delivery is handled by an external worker tailing the log.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) ports.MailSender {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendVerificationEmail(ctx context.Context, email, link string) error {
	m.log.Info().
		Str("to", email).
		Str("template", "verify_email").
		Str("link", link).
		Msg("outgoing email")
	return nil
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, email, link string) error {
	m.log.Info().
		Str("to", email).
		Str("template", "password_reset").
		Str("link", link).
		Msg("outgoing email")
	return nil
}
