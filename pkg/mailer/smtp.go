package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	ReplyTo  string
	Timeout  time.Duration
}

// SMTPSender submits mail over SMTP with STARTTLS when offered. Connection
// setup is retried; a rejected message is not.
type SMTPSender struct {
	cfg    SMTPConfig
	logger zerolog.Logger
}

func NewSMTPSender(cfg SMTPConfig, logger zerolog.Logger) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, ErrNoRecipient
	}
	body, err := s.compose(msg)
	if err != nil {
		return Result{}, err
	}

	var (
		client  *smtp.Client
		attempt int
	)
	err = retry.Do(
		func() error {
			attempt++
			c, err := s.dial(ctx)
			if err != nil {
				return err
			}
			client = c
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().Err(err).Uint("attempt", n+1).Str("host", s.cfg.Host).Msg("SMTP connect failed, retrying")
		}),
	)
	if err != nil {
		return Result{}, fmt.Errorf("smtp connect: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Mail(s.cfg.From); err != nil {
		return Result{}, fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return Result{}, fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return Result{}, fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return Result{}, fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("smtp close data: %w", err)
	}
	_ = client.Quit()

	return Result{Service: "smtp", Attempt: attempt}, nil
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			_ = client.Close()
			return nil, retry.Unrecoverable(fmt.Errorf("starttls: %w", err))
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, retry.Unrecoverable(fmt.Errorf("auth: %w", err))
		}
	}
	return client, nil
}

// compose builds a multipart/alternative message with whichever of the text
// and HTML bodies are present.
func (s *SMTPSender) compose(msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: s.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = s.cfg.ReplyTo
	}
	if replyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: replyTo}})
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	if msg.Text != "" || msg.HTML == "" {
		if err := writePart(tw, "text/plain", msg.Text); err != nil {
			return nil, err
		}
	}
	if msg.HTML != "" {
		if err := writePart(tw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.Set("Content-Type", contentType+"; charset=utf-8")
	w, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}
