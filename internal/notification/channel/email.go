package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"clubnotify/internal/notification/domain"
	subdomain "clubnotify/internal/subscription/domain"
	"clubnotify/pkg/mailer"
	"clubnotify/pkg/metrics"
)

const emailConcurrency = 16

// EmailSender hands each message to the mail collaborator. Email outcomes
// are never terminal: there is no bounce signal to act on.
type EmailSender struct {
	mailer mailer.Sender
	logger zerolog.Logger
}

func NewEmailSender(m mailer.Sender, logger zerolog.Logger) *EmailSender {
	return &EmailSender{mailer: m, logger: logger}
}

func (s *EmailSender) Channel() subdomain.Channel { return subdomain.ChannelEmail }

// Send mails every subscription concurrently, so a slow SMTP dial only
// holds up its own recipient.
func (s *EmailSender) Send(ctx context.Context, p domain.Payload, subs []*subdomain.Subscription) []domain.Outcome {
	out := make([]domain.Outcome, len(subs))
	if len(subs) == 0 {
		return out
	}

	started := time.Now()
	var g errgroup.Group
	g.SetLimit(emailConcurrency)
	for i, sub := range subs {
		g.Go(func() error {
			out[i] = s.sendOne(ctx, p, sub)
			return nil
		})
	}
	_ = g.Wait()
	metrics.ProviderBatchDuration.WithLabelValues(string(s.Channel())).Observe(time.Since(started).Seconds())
	return out
}

func (s *EmailSender) sendOne(ctx context.Context, p domain.Payload, sub *subdomain.Subscription) (o domain.Outcome) {
	o = baseOutcome(sub, s.Channel())
	defer func() {
		if r := recover(); r != nil {
			o.Success = false
			o.ErrorCode = "panic"
			o.Error = fmt.Sprint(r)
		}
	}()

	ep, ok := sub.Endpoint.(subdomain.EmailEndpoint)
	if !ok {
		return wrongEndpoint(sub, s.Channel())
	}
	res, err := s.mailer.Send(ctx, mailer.Message{
		To:      ep.Address,
		Subject: p.Title,
		Text:    p.Body,
		HTML:    p.HTML,
		ReplyTo: p.ReplyTo,
	})
	if err != nil {
		o.ErrorCode = "email-error"
		o.Error = err.Error()
		return o
	}
	o.Success = true
	o.MessageID = res.Service
	return o
}
