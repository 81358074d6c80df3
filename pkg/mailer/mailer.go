// Package mailer sends transactional email. Rendering is the caller's job;
// this package only composes the MIME message and hands it to a provider.
package mailer

import (
	"context"
	"errors"
)

var ErrNoRecipient = errors.New("email recipient is required")

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	ReplyTo string
}

// Result identifies which service accepted the message and on which
// attempt.
type Result struct {
	Service string
	Attempt int
}

// Sender delivers one message or returns an error.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}
