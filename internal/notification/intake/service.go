// Package intake consumes notification requests from Pub/Sub and routes
// them to the single-user, bulk or segment send paths.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"clubnotify/internal/notification/domain"
	"clubnotify/internal/notification/usecase"
	segdomain "clubnotify/internal/segment/domain"
	segusecase "clubnotify/internal/segment/usecase"
)

// ErrInvalidMessage marks messages that can never be processed; they are
// acknowledged so Pub/Sub stops redelivering them.
var ErrInvalidMessage = errors.New("invalid notification message")

// Router handles decoded requests. It is separate from Service so the
// routing can run without a Pub/Sub connection.
type Router struct {
	cascade usecase.Cascade
	bulk    usecase.BulkDispatcher
	logger  zerolog.Logger
	// seen remembers recently processed request IDs; Pub/Sub delivers at
	// least once.
	seen *expirable.LRU[string, struct{}]
}

func NewRouter(cascade usecase.Cascade, bulk usecase.BulkDispatcher, logger zerolog.Logger) *Router {
	return &Router{
		cascade: cascade,
		bulk:    bulk,
		logger:  logger,
		seen:    expirable.NewLRU[string, struct{}](5000, nil, time.Hour),
	}
}

// Handle decodes and routes one message. Errors wrapping ErrInvalidMessage
// are permanent; any other error is worth a redelivery.
func (r *Router) Handle(ctx context.Context, data []byte) error {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	channels, err := req.channels()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if req.RequestID != "" {
		if r.seen.Contains(req.RequestID) {
			r.logger.Info().Str("request_id", req.RequestID).Msg("skipping duplicate notification request")
			return nil
		}
		if req.Payload.NotificationID == "" {
			req.Payload.NotificationID = req.RequestID
		}
	}

	log := r.logger.With().Str("source", req.Source).Str("target", string(req.Target)).Logger()
	switch req.Target {
	case TargetUser:
		res, err := r.cascade.SendToUser(ctx, req.UserID, req.Payload, usecase.Options{Channels: channels, Mode: req.Mode})
		if err != nil {
			return classify(err)
		}
		log.Info().Str("user_id", req.UserID).Bool("delivered", res.Delivered).Int("attempts", res.Total).Msg("notification request handled")
	case TargetUsers:
		res, err := r.bulk.SendBulk(ctx, req.UserIDs, req.Payload)
		if err != nil {
			return classify(err)
		}
		log.Info().Int("recipients", res.Recipients).Int("successful", res.Successful).Int("failed", res.Failed).Msg("bulk request handled")
	case TargetSegment:
		res, err := r.bulk.SendToSegment(ctx, req.SegmentID, req.Payload)
		if err != nil {
			return classify(err)
		}
		log.Info().Str("segment_id", req.SegmentID).Int("recipients", res.Recipients).Int("successful", res.Successful).Msg("segment request handled")
	}

	if req.RequestID != "" {
		r.seen.Add(req.RequestID, struct{}{})
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, domain.ErrInvalidRequest) {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	var verr *segusecase.ValidationError
	if errors.As(err, &verr) || errors.Is(err, segdomain.ErrSegmentNotFound) {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return err
}

// Service subscribes to the request topic.
type Service struct {
	client    *pubsub.Client
	router    *Router
	topicName string
	subName   string
	logger    zerolog.Logger
}

func NewService(ctx context.Context, projectID, topicName string, router *Router, logger zerolog.Logger, opts ...option.ClientOption) (*Service, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &Service{
		client:    client,
		router:    router,
		topicName: topicName,
		subName:   topicName + "-sub",
		logger:    logger,
	}, nil
}

// Client exposes the Pub/Sub client so a Publisher can share it.
func (s *Service) Client() *pubsub.Client { return s.client }

func (s *Service) String() string { return "notification-intake" }

// Serve receives messages until ctx is cancelled. The subscription is
// created when missing and the topic exists.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.Info().Str("topic", s.topicName).Str("subscription", s.subName).Msg("starting notification intake")

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		err := s.router.Handle(ctx, msg.Data)
		switch {
		case err == nil:
			msg.Ack()
		case errors.Is(err, ErrInvalidMessage):
			s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping invalid notification message")
			msg.Ack()
		default:
			s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("notification request failed, will be redelivered")
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive notification requests: %w", err)
	}
	return ctx.Err()
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.client.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", s.subName, err)
	}
	if exists {
		return sub, nil
	}

	topic := s.client.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", s.topicName, err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}
	sub, err = s.client.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", s.subName, err)
	}
	s.logger.Info().Str("subscription", s.subName).Msg("created subscription")
	return sub, nil
}

func (s *Service) Close() error {
	return s.client.Close()
}

// Publisher lets the admin API hand large sends to the intake instead of
// running them inside the request.
type Publisher struct {
	topic *pubsub.Topic
}

func NewPublisher(client *pubsub.Client, topicName string) *Publisher {
	return &Publisher{topic: client.Topic(topicName)}
}

func (p *Publisher) Publish(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode notification request: %w", err)
	}
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification request: %w", err)
	}
	return id, nil
}

func (p *Publisher) Stop() { p.topic.Stop() }
