package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender logs messages instead of sending them. Used when SMTP is not
// configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (m *LogSender) Send(_ context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, ErrNoRecipient
	}
	m.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("text_length", len(msg.Text)).
		Int("html_length", len(msg.HTML)).
		Msg("email not sent (log sender)")
	return Result{Service: "log", Attempt: 1}, nil
}
