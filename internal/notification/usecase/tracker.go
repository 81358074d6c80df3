package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"clubnotify/internal/notification/domain"
	"clubnotify/internal/notification/repository"
	"clubnotify/pkg/metrics"
)

// Tracker records analytics events asynchronously. Repeats of the same
// event within the dedup TTL are dropped.
type Tracker struct {
	repo   repository.AnalyticsRepository
	logger zerolog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	dedup *expirable.LRU[string, struct{}]

	queue   chan domain.AnalyticsEvent
	workers int
}

type TrackerConfig struct {
	DedupSize int
	DedupTTL  time.Duration
	Workers   int
	QueueSize int
}

func NewTracker(repo repository.AnalyticsRepository, cfg TrackerConfig, logger zerolog.Logger) *Tracker {
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 10000
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	return &Tracker{
		repo:    repo,
		logger:  logger,
		clock:   time.Now,
		dedup:   expirable.NewLRU[string, struct{}](cfg.DedupSize, nil, cfg.DedupTTL),
		queue:   make(chan domain.AnalyticsEvent, cfg.QueueSize),
		workers: cfg.Workers,
	}
}

// Track enqueues ev and reports whether it was accepted. Duplicates and
// events arriving while the queue is full are dropped.
func (t *Tracker) Track(ev domain.AnalyticsEvent) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.clock()
	}
	key := ev.DedupKey()

	t.mu.Lock()
	if t.dedup.Contains(key) {
		t.mu.Unlock()
		return false
	}
	t.dedup.Add(key, struct{}{})
	t.mu.Unlock()

	select {
	case t.queue <- ev:
		return true
	default:
		metrics.AnalyticsDropped.Inc()
		t.logger.Warn().Str("type", string(ev.Type)).Str("user_id", ev.UserID).Msg("analytics queue full, dropping event")
		t.mu.Lock()
		t.dedup.Remove(key)
		t.mu.Unlock()
		return false
	}
}

// Serve runs the write workers until ctx is cancelled, then flushes what
// is left in the queue.
func (t *Tracker) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.worker(ctx)
		}()
	}
	wg.Wait()
	t.flush()
	return ctx.Err()
}

func (t *Tracker) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.queue:
			t.write(ctx, ev)
		}
	}
}

func (t *Tracker) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-t.queue:
			t.write(ctx, ev)
		default:
			return
		}
	}
}

func (t *Tracker) write(ctx context.Context, ev domain.AnalyticsEvent) {
	if err := t.repo.Save(ctx, &ev); err != nil {
		t.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to save analytics event")
	}
}
