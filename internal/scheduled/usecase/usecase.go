package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	notifdomain "clubnotify/internal/notification/domain"
	"clubnotify/internal/scheduled/domain"
	"clubnotify/internal/scheduled/repository"
)

// ScheduledUsecase defines the interface for scheduled notification business logic
type ScheduledUsecase interface {
	Schedule(ctx context.Context, n *domain.ScheduledNotification) (*domain.ScheduledNotification, error)
	Get(ctx context.Context, id string) (*domain.ScheduledNotification, error)
	List(ctx context.Context, status string, limit int) ([]*domain.ScheduledNotification, error)
	// Cancel stops a pending notification. Anything already sent, failed
	// or cancelled returns ErrNotPending.
	Cancel(ctx context.Context, id string) (*domain.ScheduledNotification, error)
}

type scheduledUsecase struct {
	repo   repository.ScheduledRepository
	clock  func() time.Time
	logger zerolog.Logger
}

func NewScheduledUsecase(repo repository.ScheduledRepository, logger zerolog.Logger) ScheduledUsecase {
	return &scheduledUsecase{repo: repo, clock: time.Now, logger: logger}
}

func (u *scheduledUsecase) Schedule(ctx context.Context, n *domain.ScheduledNotification) (*domain.ScheduledNotification, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if n.SendAt.Before(u.clock().Add(-time.Minute)) {
		return nil, fmt.Errorf("%w: send_at is in the past", notifdomain.ErrInvalidRequest)
	}
	if err := u.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	u.logger.Info().Str("scheduled_id", n.ID).Time("send_at", n.SendAt).Msg("notification scheduled")
	return n, nil
}

func (u *scheduledUsecase) Get(ctx context.Context, id string) (*domain.ScheduledNotification, error) {
	n, err := u.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, domain.ErrNotFound
	}
	return n, nil
}

func (u *scheduledUsecase) List(ctx context.Context, status string, limit int) ([]*domain.ScheduledNotification, error) {
	switch s := domain.Status(status); s {
	case "", domain.StatusPending, domain.StatusProcessing, domain.StatusSent, domain.StatusFailed, domain.StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", notifdomain.ErrInvalidRequest, status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return u.repo.List(ctx, domain.Status(status), limit)
}

func (u *scheduledUsecase) Cancel(ctx context.Context, id string) (*domain.ScheduledNotification, error) {
	n, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := u.repo.Transition(ctx, n, domain.StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotPending
	}
	return n, nil
}
