package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"clubnotify/internal/notification/domain"
	"clubnotify/internal/notification/repository"
)

// Recorder persists what happened to each attempt. Failures are logged and
// never affect the dispatch result.
type Recorder interface {
	Record(ctx context.Context, p *domain.Payload, outcomes []domain.Outcome)
}

// EventTracker accepts analytics events for asynchronous storage.
type EventTracker interface {
	Track(ev domain.AnalyticsEvent) bool
}

type recorder struct {
	logs    repository.DeliveryLogRepository
	tracker EventTracker
	clock   func() time.Time
	logger  zerolog.Logger
}

func NewRecorder(logs repository.DeliveryLogRepository, tracker EventTracker, logger zerolog.Logger) Recorder {
	return &recorder{logs: logs, tracker: tracker, clock: time.Now, logger: logger}
}

func (r *recorder) Record(ctx context.Context, p *domain.Payload, outcomes []domain.Outcome) {
	if len(outcomes) == 0 {
		return
	}
	now := r.clock()
	logs := make([]domain.DeliveryLog, len(outcomes))
	for i, o := range outcomes {
		logs[i] = domain.DeliveryLog{
			NotificationID: p.NotificationID,
			SubscriptionID: o.SubscriptionID,
			UserID:         o.UserID,
			Channel:        o.Channel,
			Success:        o.Success,
			ErrorCode:      o.ErrorCode,
			Timestamp:      now,
		}
	}
	if err := r.logs.SaveLogs(ctx, logs); err != nil {
		r.logger.Error().Err(err).Int("count", len(logs)).Msg("failed to save delivery logs")
	}

	if r.tracker == nil {
		return
	}
	for _, o := range outcomes {
		ev := domain.AnalyticsEvent{
			Type:           domain.EventSent,
			NotificationID: p.NotificationID,
			UserID:         o.UserID,
			ClubID:         p.ClubID,
			Channel:        o.Channel,
			SubscriptionID: o.SubscriptionID,
			Timestamp:      now,
		}
		if !o.Success {
			ev.Type = domain.EventFailed
			if o.ErrorCode != "" {
				ev.Metadata = map[string]string{"error_code": o.ErrorCode}
			}
		}
		r.tracker.Track(ev)
	}
}
