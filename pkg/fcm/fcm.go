package fcm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
)

// MaxBatchSize is the most messages FCM accepts in one SendEach call.
const MaxBatchSize = 500

// Error codes reported for failed sends. The first two mean the token will
// never work again.
const (
	CodeTokenNotRegistered = "messaging/registration-token-not-registered"
	CodeInvalidToken       = "messaging/invalid-registration-token"
	// CodeInvalidArgument is a rejected request that does not blame the
	// token, such as a reserved data key or an oversized payload.
	CodeInvalidArgument = "messaging/invalid-argument"
	CodeQuotaExceeded      = "messaging/quota-exceeded"
	CodeUnavailable        = "messaging/server-unavailable"
	CodeInternal           = "messaging/internal-error"
	CodeUnknown            = "messaging/unknown-error"
)

var ErrBatchTooLarge = errors.New("fcm batch exceeds 500 messages")

// Client wraps Firebase Cloud Messaging functionality
type Client struct {
	messagingClient *messaging.Client
	logger          zerolog.Logger
}

// NewClient creates a messaging client from an initialised Firebase app
func NewClient(ctx context.Context, app *firebase.App, logger zerolog.Logger) (*Client, error) {
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	logger.Info().Msg("FCM client initialized")
	return &Client{messagingClient: messagingClient, logger: logger}, nil
}

// Message is one push addressed to a single device token.
type Message struct {
	Token    string
	Platform string // android, ios or web
	Title    string
	Body     string
	ImageURL string
	Icon     string
	Data     map[string]string
}

// Response is the outcome for the message at the same index.
type Response struct {
	Success      bool
	MessageID    string
	ErrorCode    string
	ErrorMessage string
}

// BuildMessage converts m into the provider message for its platform.
// Android gets high priority on the default channel with the default sound;
// iOS gets an APNs alert with the default sound and a badge of 1.
func BuildMessage(m Message) *messaging.Message {
	msg := &messaging.Message{
		Token: m.Token,
		Notification: &messaging.Notification{
			Title:    m.Title,
			Body:     m.Body,
			ImageURL: m.ImageURL,
		},
		Data: m.Data,
	}

	switch m.Platform {
	case "android":
		msg.Android = &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "default",
				Sound:     "default",
			},
		}
	case "ios":
		badge := 1
		msg.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: m.Title,
						Body:  m.Body,
					},
					Sound: "default",
					Badge: &badge,
				},
			},
		}
	case "web":
		icon := m.Icon
		if icon == "" {
			icon = "/icon-192.svg"
		}
		msg.Webpush = &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: m.Title,
				Body:  m.Body,
				Icon:  icon,
			},
		}
	}
	return msg
}

// SendBatch sends up to MaxBatchSize messages in one call. Responses are
// index-aligned with msgs.
func (c *Client) SendBatch(ctx context.Context, msgs []Message) ([]Response, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	batch := make([]*messaging.Message, len(msgs))
	for i, m := range msgs {
		batch[i] = BuildMessage(m)
	}

	br, err := c.messagingClient.SendEach(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM batch: %w", err)
	}

	c.logger.Debug().Int("success", br.SuccessCount).Int("failure", br.FailureCount).Msg("FCM batch sent")

	return responses(len(msgs), br.Responses), nil
}

// responses aligns provider results with the n messages sent. Missing or
// empty results count as unknown failures.
func responses(n int, rs []*messaging.SendResponse) []Response {
	out := make([]Response, n)
	for i := range out {
		if i >= len(rs) || rs[i] == nil {
			out[i] = Response{ErrorCode: CodeUnknown, ErrorMessage: "provider returned no response for message"}
			continue
		}
		r := rs[i]
		if r.Success {
			out[i] = Response{Success: true, MessageID: r.MessageID}
			continue
		}
		if r.Error == nil {
			out[i] = Response{ErrorCode: CodeUnknown, ErrorMessage: "message failed without an error"}
			continue
		}
		out[i] = Response{ErrorCode: ErrorCode(r.Error), ErrorMessage: r.Error.Error()}
	}
	return out
}

// ErrorCode maps an FCM error to a stable code string.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case messaging.IsUnregistered(err):
		return CodeTokenNotRegistered
	case messaging.IsInvalidArgument(err):
		// INVALID_ARGUMENT covers any malformed request; only the token
		// variant says the device is gone.
		if strings.Contains(strings.ToLower(err.Error()), "registration token") {
			return CodeInvalidToken
		}
		return CodeInvalidArgument
	case messaging.IsQuotaExceeded(err):
		return CodeQuotaExceeded
	case messaging.IsUnavailable(err):
		return CodeUnavailable
	case messaging.IsInternal(err):
		return CodeInternal
	}
	return CodeUnknown
}

// IsTerminal reports whether code means the token is permanently invalid.
func IsTerminal(code string) bool {
	return code == CodeTokenNotRegistered || code == CodeInvalidToken
}
