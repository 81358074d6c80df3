package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clubnotify/internal/notification/domain"
	"clubnotify/pkg/docstore"
)

// DeliveryLogRepository persists one row per delivery attempt
type DeliveryLogRepository interface {
	SaveLogs(ctx context.Context, logs []domain.DeliveryLog) error
	// CountByNotification returns attempts and successes for a notification.
	CountByNotification(ctx context.Context, notificationID string) (attempts, successes int, err error)
}

type deliveryLogRepository struct {
	store docstore.Store
}

func NewDeliveryLogRepository(store docstore.Store) DeliveryLogRepository {
	return &deliveryLogRepository{store: store}
}

func (r *deliveryLogRepository) SaveLogs(ctx context.Context, logs []domain.DeliveryLog) error {
	for start := 0; start < len(logs); start += docstore.MaxBatchSize {
		end := min(start+docstore.MaxBatchSize, len(logs))
		ops := make([]docstore.WriteOp, 0, end-start)
		for i := start; i < end; i++ {
			l := &logs[i]
			if l.ID == "" {
				l.ID = uuid.New().String()
			}
			if l.Timestamp.IsZero() {
				l.Timestamp = time.Now()
			}
			ops = append(ops, docstore.WriteOp{
				Kind:       docstore.WriteSet,
				Collection: domain.DeliveryLogCollection,
				ID:         l.ID,
				Data:       l.ToDocument(),
			})
		}
		if err := r.store.BatchWrite(ctx, ops); err != nil {
			return fmt.Errorf("save delivery logs: %w", err)
		}
	}
	return nil
}

func (r *deliveryLogRepository) CountByNotification(ctx context.Context, notificationID string) (int, int, error) {
	byID := docstore.Where("notificationId", docstore.OpEqual, notificationID)
	attempts, err := r.store.Count(ctx, domain.DeliveryLogCollection, []docstore.Filter{byID})
	if err != nil {
		return 0, 0, fmt.Errorf("count delivery logs: %w", err)
	}
	successes, err := r.store.Count(ctx, domain.DeliveryLogCollection, []docstore.Filter{
		byID, docstore.Where("success", docstore.OpEqual, true),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("count delivered logs: %w", err)
	}
	return attempts, successes, nil
}
