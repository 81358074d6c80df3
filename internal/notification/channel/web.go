package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"clubnotify/internal/notification/domain"
	subdomain "clubnotify/internal/subscription/domain"
	"clubnotify/pkg/metrics"
	"clubnotify/pkg/webpush"
)

const (
	defaultWebIcon  = "/icon-192.svg"
	defaultWebBadge = "/badge-72.png"
	webConcurrency  = 32
)

// WebPushProvider posts one encrypted payload to one browser subscription.
type WebPushProvider interface {
	Send(ctx context.Context, sub webpush.Subscription, payload []byte, urgent bool) (webpush.Response, error)
}

type webPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Icon  string            `json:"icon"`
	Badge string            `json:"badge"`
}

type WebSender struct {
	provider WebPushProvider
	logger   zerolog.Logger
}

func NewWebSender(provider WebPushProvider, logger zerolog.Logger) *WebSender {
	return &WebSender{provider: provider, logger: logger}
}

func (s *WebSender) Channel() subdomain.Channel { return subdomain.ChannelWebPush }

// Send posts to every subscription concurrently. HTTP 404 and 410 mean the
// browser subscription is gone; other non-2xx statuses are transient.
func (s *WebSender) Send(ctx context.Context, p domain.Payload, subs []*subdomain.Subscription) []domain.Outcome {
	out := make([]domain.Outcome, len(subs))
	if len(subs) == 0 {
		return out
	}

	wp := webPayload{Title: p.Title, Body: p.Body, Data: p.Data, Icon: p.Icon, Badge: p.Badge}
	if wp.Icon == "" {
		wp.Icon = defaultWebIcon
	}
	if wp.Badge == "" {
		wp.Badge = defaultWebBadge
	}
	body, err := json.Marshal(wp)
	if err != nil {
		for i, sub := range subs {
			out[i] = baseOutcome(sub, s.Channel())
			out[i].ErrorCode = "encode-error"
			out[i].Error = err.Error()
		}
		return out
	}

	started := time.Now()
	var g errgroup.Group
	g.SetLimit(webConcurrency)
	for i, sub := range subs {
		g.Go(func() error {
			out[i] = s.sendOne(ctx, sub, body, p.IsCritical())
			return nil
		})
	}
	_ = g.Wait()
	metrics.ProviderBatchDuration.WithLabelValues(string(s.Channel())).Observe(time.Since(started).Seconds())
	return out
}

func (s *WebSender) sendOne(ctx context.Context, sub *subdomain.Subscription, body []byte, urgent bool) (o domain.Outcome) {
	o = baseOutcome(sub, s.Channel())
	defer func() {
		if r := recover(); r != nil {
			o.Success = false
			o.ErrorCode = "panic"
			o.Error = fmt.Sprint(r)
		}
	}()

	ep, ok := sub.Endpoint.(subdomain.WebEndpoint)
	if !ok {
		return wrongEndpoint(sub, s.Channel())
	}
	resp, err := s.provider.Send(ctx, webpush.Subscription{Endpoint: ep.URL, P256dh: ep.P256dh, Auth: ep.Auth}, body, urgent)
	if err != nil {
		o.ErrorCode = "network-error"
		o.Error = err.Error()
		return o
	}
	o.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		o.Success = true
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		o.Terminal = true
		o.ErrorCode = "subscription-expired"
		o.Error = fmt.Sprintf("push service returned %d", resp.StatusCode)
	default:
		o.ErrorCode = "push-service-error"
		o.Error = fmt.Sprintf("push service returned %d: %s", resp.StatusCode, resp.Body)
	}
	return o
}
