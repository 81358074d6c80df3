package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	notifdomain "clubnotify/internal/notification/domain"
	notifusecase "clubnotify/internal/notification/usecase"
	"clubnotify/internal/scheduled/domain"
	"clubnotify/internal/scheduled/repository"
	"clubnotify/pkg/lock"
	"clubnotify/pkg/metrics"
)

const (
	lockName = "scheduled-dispatch"
	// defaultStaleAfter bounds how long a claimed notification may stay in
	// processing before it is given up on.
	defaultStaleAfter = 30 * time.Minute
)

// Dispatcher sends scheduled notifications once they are due
type Dispatcher struct {
	repo     repository.ScheduledRepository
	bulk     notifusecase.BulkDispatcher
	locker   lock.Locker
	interval   time.Duration
	limit      int
	staleAfter time.Duration
	clock      func() time.Time
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher polling every interval
func NewDispatcher(
	repo repository.ScheduledRepository,
	bulk notifusecase.BulkDispatcher,
	locker lock.Locker,
	interval time.Duration,
	limit int,
	logger zerolog.Logger,
) *Dispatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	if limit <= 0 {
		limit = 50
	}
	return &Dispatcher{
		repo:       repo,
		bulk:       bulk,
		locker:     locker,
		interval:   interval,
		limit:      limit,
		staleAfter: defaultStaleAfter,
		clock:      time.Now,
		logger:     logger,
	}
}

func (d *Dispatcher) String() string { return "scheduled-dispatcher" }

// Serve runs the poll loop until ctx is cancelled
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.logger.Info().Dur("interval", d.interval).Msg("starting scheduled notification dispatcher")

	// Run immediately on start
	d.RunOnce(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.RunOnce(ctx)
		case <-ctx.Done():
			d.logger.Info().Msg("scheduled notification dispatcher stopped")
			return ctx.Err()
		}
	}
}

// RunOnce dispatches everything currently due and returns how many
// notifications it processed. The lock only spaces out polling across
// instances; each notification is claimed before it is sent, so a run that
// outlives the lock never sends twice.
func (d *Dispatcher) RunOnce(ctx context.Context) int {
	handle, err := d.locker.Acquire(ctx, lockName, d.interval)
	if errors.Is(err, lock.ErrHeld) {
		return 0
	}
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to acquire dispatch lock")
		return 0
	}
	defer func() {
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn().Err(err).Msg("failed to release dispatch lock")
		}
	}()

	if n, err := d.repo.FailStale(ctx, d.clock().Add(-d.staleAfter), d.limit); err != nil {
		d.logger.Error().Err(err).Msg("error failing stale scheduled notifications")
	} else if n > 0 {
		metrics.ScheduledDispatched.WithLabelValues(string(domain.StatusFailed)).Add(float64(n))
		d.logger.Warn().Int("count", n).Msg("gave up on interrupted scheduled notifications")
	}

	due, err := d.repo.FindDue(ctx, d.clock(), d.limit)
	if err != nil {
		d.logger.Error().Err(err).Msg("error finding due notifications")
		return 0
	}
	if len(due) == 0 {
		return 0
	}
	d.logger.Info().Int("count", len(due)).Msg("dispatching due notifications")

	processed := 0
	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		if d.dispatch(ctx, n) {
			processed++
		}
	}
	return processed
}

func (d *Dispatcher) dispatch(ctx context.Context, n *domain.ScheduledNotification) bool {
	log := d.logger.With().Str("scheduled_id", n.ID).Logger()

	// Cancellation may have landed since the due query ran.
	current, err := d.repo.FindByID(ctx, n.ID)
	if err != nil {
		log.Error().Err(err).Msg("error reloading scheduled notification")
		return false
	}
	if current == nil || current.Status != domain.StatusPending {
		return false
	}
	n = current

	claimed, err := d.repo.Claim(ctx, n)
	if err != nil {
		log.Error().Err(err).Msg("error claiming scheduled notification")
		return false
	}
	if !claimed {
		return false
	}

	if n.Payload.NotificationID == "" {
		n.Payload.NotificationID = n.ID
	}
	res, err := d.send(ctx, n)

	status := domain.StatusSent
	switch {
	case err != nil:
		status = domain.StatusFailed
		n.LastError = err.Error()
	case res.Failed > 0 && res.Successful == 0:
		status = domain.StatusFailed
		n.LastError = fmt.Sprintf("all %d delivery attempts failed", res.Failed)
	}
	if res != nil {
		n.Recipients = res.Recipients
		n.Successful = res.Successful
		n.Failed = res.Failed
	}

	ok, err := d.repo.Complete(context.WithoutCancel(ctx), n, status)
	if err != nil {
		log.Error().Err(err).Msg("error recording scheduled notification result")
		return false
	}
	if !ok {
		log.Warn().Msg("scheduled notification was given up on during dispatch")
		return false
	}
	metrics.ScheduledDispatched.WithLabelValues(string(status)).Inc()
	log.Info().
		Str("status", string(status)).
		Int("recipients", n.Recipients).
		Int("successful", n.Successful).
		Int("failed", n.Failed).
		Msg("scheduled notification dispatched")
	return true
}

func (d *Dispatcher) send(ctx context.Context, n *domain.ScheduledNotification) (*notifdomain.BulkResult, error) {
	if n.SegmentID != "" {
		return d.bulk.SendToSegment(ctx, n.SegmentID, n.Payload)
	}
	return d.bulk.SendBulk(ctx, n.UserIDs, n.Payload)
}
