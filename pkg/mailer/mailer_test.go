package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

type failingSender struct{ calls int }

func (f *failingSender) Send(context.Context, Message) (Result, error) {
	f.calls++
	return Result{}, errors.New("provider down")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &failingSender{}
	b := NewBreakerSender(next, "email-test", zerolog.Nop())

	for i := 0; i < 5; i++ {
		if _, err := b.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
			t.Fatal("expected provider error")
		}
	}
	_, err := b.Send(context.Background(), Message{To: "a@example.com"})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if next.calls != 5 {
		t.Errorf("provider called %d times, want 5", next.calls)
	}
}

func TestComposeIncludesBothParts(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 25, From: "club@example.com", ReplyTo: "desk@example.com"}, zerolog.Nop())
	raw, err := s.compose(Message{To: "p@example.com", Subject: "Court booked", Text: "plain", HTML: "<b>html</b>"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	out := string(raw)
	for _, want := range []string{"Subject: Court booked", "To: <p@example.com>", "Reply-To: <desk@example.com>", "text/plain", "text/html", "plain", "<b>html</b>"} {
		if !strings.Contains(out, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendersRejectEmptyRecipient(t *testing.T) {
	if _, err := NewLogSender(zerolog.Nop()).Send(context.Background(), Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("LogSender: %v", err)
	}
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 25}, zerolog.Nop())
	if _, err := s.Send(context.Background(), Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("SMTPSender: %v", err)
	}
}
