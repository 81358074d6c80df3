// Package webpush delivers browser push messages using VAPID.
package webpush

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpushgo "github.com/SherClockHolmes/webpush-go"
)

// Subscription is the browser's PushSubscription descriptor.
type Subscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact address sent in the VAPID claims.
	Subscriber string
	TTL        int
	Timeout    time.Duration
}

// Response is the push service's answer to one message.
type Response struct {
	StatusCode int
	Body       string
}

// Client sends encrypted payloads to push service endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.TTL == 0 {
		cfg.TTL = 86400
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// Send encrypts payload for sub and posts it. Non-2xx responses are
// returned as a Response, not an error; err is reserved for failures to
// reach the push service.
func (c *Client) Send(ctx context.Context, sub Subscription, payload []byte, urgent bool) (Response, error) {
	urgency := webpushgo.UrgencyNormal
	if urgent {
		urgency = webpushgo.UrgencyHigh
	}
	resp, err := webpushgo.SendNotificationWithContext(ctx, payload, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpushgo.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpushgo.Options{
		HTTPClient:      c.httpClient,
		Subscriber:      c.cfg.Subscriber,
		VAPIDPublicKey:  c.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: c.cfg.VAPIDPrivateKey,
		TTL:             c.cfg.TTL,
		Urgency:         urgency,
	})
	if err != nil {
		return Response{}, fmt.Errorf("web push send: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return Response{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
