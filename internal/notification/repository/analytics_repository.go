package repository

import (
	"context"
	"fmt"

	"clubnotify/internal/notification/domain"
	"clubnotify/pkg/docstore"
)

// AnalyticsRepository stores tracked lifecycle events
type AnalyticsRepository interface {
	Save(ctx context.Context, ev *domain.AnalyticsEvent) error
	// CountByType returns per-type event counts for a notification.
	CountByType(ctx context.Context, notificationID string) (map[domain.EventType]int, error)
}

type analyticsRepository struct {
	store docstore.Store
}

func NewAnalyticsRepository(store docstore.Store) AnalyticsRepository {
	return &analyticsRepository{store: store}
}

func (r *analyticsRepository) Save(ctx context.Context, ev *domain.AnalyticsEvent) error {
	if _, err := r.store.Create(ctx, domain.AnalyticsCollection, ev.ToDocument()); err != nil {
		return fmt.Errorf("save analytics event: %w", err)
	}
	return nil
}

func (r *analyticsRepository) CountByType(ctx context.Context, notificationID string) (map[domain.EventType]int, error) {
	out := make(map[domain.EventType]int, 4)
	for _, t := range []domain.EventType{domain.EventSent, domain.EventDelivered, domain.EventClicked, domain.EventFailed} {
		n, err := r.store.Count(ctx, domain.AnalyticsCollection, []docstore.Filter{
			docstore.Where("notificationId", docstore.OpEqual, notificationID),
			docstore.Where("type", docstore.OpEqual, string(t)),
		})
		if err != nil {
			return nil, fmt.Errorf("count %s events: %w", t, err)
		}
		out[t] = n
	}
	return out, nil
}
