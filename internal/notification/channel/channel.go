// Package channel adapts each push or mail provider to a common sender
// contract. Senders never return errors: every subscription gets an
// Outcome at the same index, and provider failures are classified as
// transient or terminal here.
package channel

import (
	"context"
	"fmt"

	"clubnotify/internal/notification/domain"
	subdomain "clubnotify/internal/subscription/domain"
)

// Sender delivers a payload to subscriptions of a single channel.
type Sender interface {
	Channel() subdomain.Channel
	// Send returns one outcome per subscription, index-aligned with subs.
	Send(ctx context.Context, p domain.Payload, subs []*subdomain.Subscription) []domain.Outcome
}

func baseOutcome(sub *subdomain.Subscription, ch subdomain.Channel) domain.Outcome {
	return domain.Outcome{SubscriptionID: sub.ID, UserID: sub.UserID, Channel: ch}
}

func wrongEndpoint(sub *subdomain.Subscription, ch subdomain.Channel) domain.Outcome {
	o := baseOutcome(sub, ch)
	o.ErrorCode = "wrong-channel"
	o.Error = fmt.Sprintf("subscription endpoint is %T, not %s", sub.Endpoint, ch)
	return o
}
