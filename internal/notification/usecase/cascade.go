package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"clubnotify/internal/notification/channel"
	"clubnotify/internal/notification/domain"
	subdomain "clubnotify/internal/subscription/domain"
	subrepo "clubnotify/internal/subscription/repository"
	"clubnotify/pkg/metrics"
)

// DefaultChannelOrder is the priority used when none is configured.
var DefaultChannelOrder = []subdomain.Channel{
	subdomain.ChannelNativePush,
	subdomain.ChannelWebPush,
	subdomain.ChannelEmail,
}

// Options tune a single-user send. Zero values fall back to the cascade's
// runtime settings.
type Options struct {
	// Channels restricts and orders the channels tried.
	Channels []subdomain.Channel
	// Mode defaults to sequential for critical payloads and fan-out
	// otherwise.
	Mode domain.Mode
	// RequireAll makes a fan-out send count as delivered only when every
	// subscription succeeded.
	RequireAll bool
}

// Cascade delivers notifications to users' subscriptions. It does not
// retry failed attempts; callers that want retries resend.
type Cascade interface {
	SendToUser(ctx context.Context, userID string, p domain.Payload, opts Options) (*domain.DeliveryResult, error)
	// Dispatch sends p to subs concurrently per channel and applies the
	// resulting subscription updates. Subscriptions on disabled channels
	// are skipped.
	Dispatch(ctx context.Context, p domain.Payload, subs []*subdomain.Subscription) domain.Aggregate
	ChannelOrder() []subdomain.Channel
	SetChannelOrder(order []subdomain.Channel) error
	RequireAll() bool
	SetRequireAll(v bool)
}

// capability reports whether a subscription can be reached on a channel.
type capability struct {
	channel subdomain.Channel
	has     func(*subdomain.Subscription) bool
}

var capabilities = []capability{
	{subdomain.ChannelNativePush, func(s *subdomain.Subscription) bool {
		e, ok := s.Endpoint.(subdomain.NativeEndpoint)
		return ok && e.Token != ""
	}},
	{subdomain.ChannelWebPush, func(s *subdomain.Subscription) bool {
		e, ok := s.Endpoint.(subdomain.WebEndpoint)
		return ok && e.URL != ""
	}},
	{subdomain.ChannelEmail, func(s *subdomain.Subscription) bool {
		e, ok := s.Endpoint.(subdomain.EmailEndpoint)
		return ok && e.Address != ""
	}},
}

func capabilityFor(ch subdomain.Channel) capability {
	for _, c := range capabilities {
		if c.channel == ch {
			return c
		}
	}
	return capability{channel: ch, has: func(*subdomain.Subscription) bool { return false }}
}

type cascade struct {
	subs     subrepo.SubscriptionRepository
	senders  map[subdomain.Channel]channel.Sender
	recorder Recorder
	logger   zerolog.Logger

	mu         sync.RWMutex
	order      []subdomain.Channel
	requireAll bool
}

// CascadeConfig holds the initial runtime settings.
type CascadeConfig struct {
	ChannelOrder []subdomain.Channel
	RequireAll   bool
}

func NewCascade(subs subrepo.SubscriptionRepository, senders []channel.Sender, recorder Recorder, cfg CascadeConfig, logger zerolog.Logger) (Cascade, error) {
	c := &cascade{
		subs:       subs,
		senders:    make(map[subdomain.Channel]channel.Sender, len(senders)),
		recorder:   recorder,
		logger:     logger,
		requireAll: cfg.RequireAll,
	}
	for _, s := range senders {
		c.senders[s.Channel()] = s
	}
	order := cfg.ChannelOrder
	if len(order) == 0 {
		order = DefaultChannelOrder
	}
	if err := c.SetChannelOrder(order); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *cascade) ChannelOrder() []subdomain.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]subdomain.Channel(nil), c.order...)
}

// SetChannelOrder replaces the priority order. Channels left out are
// disabled.
func (c *cascade) SetChannelOrder(order []subdomain.Channel) error {
	if err := c.checkChannels(order); err != nil {
		return err
	}
	if len(order) == 0 {
		return fmt.Errorf("%w: channel order is empty", domain.ErrInvalidRequest)
	}
	c.mu.Lock()
	c.order = append([]subdomain.Channel(nil), order...)
	c.mu.Unlock()
	c.logger.Info().Interface("order", order).Msg("channel order updated")
	return nil
}

func (c *cascade) RequireAll() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requireAll
}

func (c *cascade) SetRequireAll(v bool) {
	c.mu.Lock()
	c.requireAll = v
	c.mu.Unlock()
}

func (c *cascade) checkChannels(chs []subdomain.Channel) error {
	seen := make(map[subdomain.Channel]bool, len(chs))
	for _, ch := range chs {
		if _, err := subdomain.ParseChannel(string(ch)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		if _, ok := c.senders[ch]; !ok {
			return fmt.Errorf("%w: no sender configured for %s", domain.ErrInvalidRequest, ch)
		}
		if seen[ch] {
			return fmt.Errorf("%w: channel %s listed twice", domain.ErrInvalidRequest, ch)
		}
		seen[ch] = true
	}
	return nil
}

func (c *cascade) SendToUser(ctx context.Context, userID string, p domain.Payload, opts Options) (*domain.DeliveryResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is empty", domain.ErrInvalidRequest)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := c.checkChannels(opts.Channels); err != nil {
		return nil, err
	}
	mode, err := domain.ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = domain.ModeFanOut
		if p.IsCritical() {
			mode = domain.ModeSequential
		}
	}
	if p.NotificationID == "" {
		p.NotificationID = uuid.New().String()
	}

	order := opts.Channels
	if len(order) == 0 {
		order = c.ChannelOrder()
	}

	subs, err := c.subs.ListByUser(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions for %s: %w", userID, err)
	}

	result := &domain.DeliveryResult{Aggregate: domain.NewAggregate(), UserID: userID, Mode: mode}
	if mode == domain.ModeSequential {
		c.sendSequential(ctx, p, subs, order, result)
		return result, nil
	}

	var targets []*subdomain.Subscription
	for _, ch := range order {
		capable := capabilityFor(ch)
		picked := false
		for _, s := range subs {
			if capable.has(s) {
				targets = append(targets, s)
				picked = true
			}
		}
		if picked {
			result.ChannelsTried = append(result.ChannelsTried, ch)
		}
	}
	result.Aggregate = c.dispatch(ctx, p, targets, order)
	requireAll := opts.RequireAll || c.RequireAll()
	if requireAll {
		result.Delivered = result.Total > 0 && result.Failed == 0
	} else {
		result.Delivered = result.Successful > 0
	}
	return result, nil
}

// sendSequential walks the capability checks in priority order and stops
// at the first channel where any attempt succeeded.
func (c *cascade) sendSequential(ctx context.Context, p domain.Payload, subs []*subdomain.Subscription, order []subdomain.Channel, result *domain.DeliveryResult) {
	for _, ch := range order {
		capable := capabilityFor(ch)
		var targets []*subdomain.Subscription
		for _, s := range subs {
			if capable.has(s) {
				targets = append(targets, s)
			}
		}
		if len(targets) == 0 {
			continue
		}
		result.ChannelsTried = append(result.ChannelsTried, ch)
		agg := c.dispatch(ctx, p, targets, []subdomain.Channel{ch})
		result.Merge(agg)
		if agg.Successful > 0 {
			result.Delivered = true
			return
		}
		c.logger.Debug().Str("user_id", result.UserID).Str("channel", string(ch)).Msg("channel failed, cascading")
	}
}

func (c *cascade) Dispatch(ctx context.Context, p domain.Payload, subs []*subdomain.Subscription) domain.Aggregate {
	return c.dispatch(ctx, p, subs, c.ChannelOrder())
}

func (c *cascade) dispatch(ctx context.Context, p domain.Payload, subs []*subdomain.Subscription, enabled []subdomain.Channel) domain.Aggregate {
	agg := domain.NewAggregate()
	if len(subs) == 0 {
		return agg
	}

	groups := make(map[subdomain.Channel][]int, len(enabled))
	for _, ch := range enabled {
		groups[ch] = nil
	}
	var routed []int
	for i, s := range subs {
		if s.Endpoint == nil {
			continue
		}
		ch := s.Channel()
		if _, ok := groups[ch]; !ok {
			continue
		}
		groups[ch] = append(groups[ch], i)
		routed = append(routed, i)
	}

	outcomes := make([]domain.Outcome, len(subs))
	var g errgroup.Group
	for ch, idx := range groups {
		if len(idx) == 0 {
			continue
		}
		sender := c.senders[ch]
		g.Go(func() error {
			batch := make([]*subdomain.Subscription, len(idx))
			for j, i := range idx {
				batch[j] = subs[i]
			}
			res := c.sendIsolated(ctx, sender, p, batch)
			for j, i := range idx {
				outcomes[i] = res[j]
			}
			return nil
		})
	}
	_ = g.Wait()

	settled := make([]domain.Outcome, 0, len(routed))
	for _, i := range routed {
		settled = append(settled, outcomes[i])
	}
	c.apply(ctx, settled)
	if c.recorder != nil {
		c.recorder.Record(ctx, &p, settled)
	}
	for _, o := range settled {
		agg.Add(o)
	}
	return agg
}

// sendIsolated turns a sender panic or a short result into failed
// outcomes for its batch instead of taking down sibling channels.
func (c *cascade) sendIsolated(ctx context.Context, sender channel.Sender, p domain.Payload, batch []*subdomain.Subscription) (out []domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("channel", string(sender.Channel())).Msg("sender panicked")
			out = failAll(batch, sender.Channel(), "panic", fmt.Sprint(r))
		}
	}()
	out = sender.Send(ctx, p, batch)
	if len(out) != len(batch) {
		return failAll(batch, sender.Channel(), "sender-error", fmt.Sprintf("sender returned %d outcomes for %d subscriptions", len(out), len(batch)))
	}
	return out
}

func failAll(batch []*subdomain.Subscription, ch subdomain.Channel, code, msg string) []domain.Outcome {
	out := make([]domain.Outcome, len(batch))
	for i, s := range batch {
		out[i] = domain.Outcome{SubscriptionID: s.ID, UserID: s.UserID, Channel: ch, ErrorCode: code, Error: msg}
	}
	return out
}

// apply deactivates subscriptions with terminal outcomes and refreshes the
// ones that succeeded.
func (c *cascade) apply(ctx context.Context, outcomes []domain.Outcome) {
	var touched []string
	for _, o := range outcomes {
		switch {
		case o.Success:
			metrics.DeliveryAttempts.WithLabelValues(string(o.Channel), "success").Inc()
			touched = append(touched, o.SubscriptionID)
		case o.Terminal && o.Channel != subdomain.ChannelEmail:
			metrics.DeliveryAttempts.WithLabelValues(string(o.Channel), "terminal").Inc()
			changed, err := c.subs.Deactivate(ctx, o.SubscriptionID, subdomain.ReasonDeliveryFailure, o.Error)
			if err != nil {
				c.logger.Error().Err(err).Str("subscription_id", o.SubscriptionID).Msg("failed to deactivate subscription")
				continue
			}
			if changed {
				metrics.SubscriptionsDeactivated.WithLabelValues(string(subdomain.ReasonDeliveryFailure)).Inc()
				c.logger.Info().
					Str("subscription_id", o.SubscriptionID).
					Str("user_id", o.UserID).
					Str("code", o.ErrorCode).
					Msg("subscription deactivated")
			}
		default:
			metrics.DeliveryAttempts.WithLabelValues(string(o.Channel), "transient").Inc()
		}
	}
	if len(touched) > 0 {
		if err := c.subs.Touch(ctx, touched); err != nil {
			c.logger.Warn().Err(err).Int("count", len(touched)).Msg("failed to refresh subscription last use")
		}
	}
}
