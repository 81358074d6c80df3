package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"clubnotify/internal/notification/domain"
	segusecase "clubnotify/internal/segment/usecase"
	subrepo "clubnotify/internal/subscription/repository"
	"clubnotify/pkg/metrics"
)

// DefaultBulkWindow bounds how many user IDs go into one subscription
// lookup.
const DefaultBulkWindow = 100

// BulkDispatcher fans one payload out to many users.
type BulkDispatcher interface {
	// SendBulk delivers p to every active subscription of userIDs. An empty
	// list is a valid no-op.
	SendBulk(ctx context.Context, userIDs []string, p domain.Payload) (*domain.BulkResult, error)
	// SendToSegment resolves a saved segment and sends to its members.
	SendToSegment(ctx context.Context, segmentID string, p domain.Payload) (*domain.BulkResult, error)
}

type BulkConfig struct {
	Window int
	// RatePerSecond paces windows; zero means unlimited.
	RatePerSecond float64
}

type bulkDispatcher struct {
	subs     subrepo.SubscriptionRepository
	cascade  Cascade
	segments segusecase.Engine
	window   int
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

func NewBulkDispatcher(subs subrepo.SubscriptionRepository, cascade Cascade, segments segusecase.Engine, cfg BulkConfig, logger zerolog.Logger) BulkDispatcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultBulkWindow
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &bulkDispatcher{
		subs:     subs,
		cascade:  cascade,
		segments: segments,
		window:   cfg.Window,
		limiter:  limiter,
		logger:   logger,
	}
}

func (b *bulkDispatcher) SendBulk(ctx context.Context, userIDs []string, p domain.Payload) (*domain.BulkResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	userIDs = uniqueIDs(userIDs)
	result := &domain.BulkResult{Aggregate: domain.NewAggregate(), Recipients: len(userIDs)}
	if len(userIDs) == 0 {
		return result, nil
	}
	if p.NotificationID == "" {
		p.NotificationID = uuid.New().String()
	}
	metrics.BulkRecipients.Observe(float64(len(userIDs)))

	started := time.Now()
	for start := 0; start < len(userIDs); start += b.window {
		end := min(start+b.window, len(userIDs))
		if err := b.limiter.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, domain.ErrorEntry{
				Error: fmt.Sprintf("bulk send stopped before users %d-%d: %v", start, end-1, err),
			})
			break
		}

		subs, err := b.subs.ListActiveByUsers(ctx, userIDs[start:end])
		if err != nil {
			b.logger.Error().Err(err).Int("window_start", start).Msg("subscription lookup failed")
			result.Errors = append(result.Errors, domain.ErrorEntry{
				Error: fmt.Sprintf("subscription lookup failed for users %d-%d: %v", start, end-1, err),
			})
			continue
		}
		result.Merge(b.cascade.Dispatch(ctx, p, subs))
	}

	b.logger.Info().
		Str("notification_id", p.NotificationID).
		Int("recipients", len(userIDs)).
		Int("total", result.Total).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Dur("elapsed", time.Since(started)).
		Msg("bulk send finished")
	return result, nil
}

// uniqueIDs drops repeated and empty IDs, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (b *bulkDispatcher) SendToSegment(ctx context.Context, segmentID string, p domain.Payload) (*domain.BulkResult, error) {
	if segmentID == "" {
		return nil, fmt.Errorf("%w: segment id is empty", domain.ErrInvalidRequest)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if b.segments == nil {
		return nil, fmt.Errorf("segment targeting is not configured")
	}
	builder, err := b.segments.Load(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	users, err := b.segments.Execute(ctx, builder)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return b.SendBulk(ctx, ids, p)
}
