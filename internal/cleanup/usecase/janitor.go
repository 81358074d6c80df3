package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clubnotify/internal/cleanup/domain"
	"clubnotify/internal/cleanup/repository"
	notifdomain "clubnotify/internal/notification/domain"
	scheddomain "clubnotify/internal/scheduled/domain"
	schedrepo "clubnotify/internal/scheduled/repository"
	subdomain "clubnotify/internal/subscription/domain"
	subrepo "clubnotify/internal/subscription/repository"
	userrepo "clubnotify/internal/user/repository"
	"clubnotify/pkg/docstore"
	"clubnotify/pkg/lock"
	"clubnotify/pkg/metrics"
)

const lockName = "retention-sweep"

// Config holds the retention windows and sweep bounds.
type Config struct {
	AnalyticsDays  int
	DeliveryDays   int
	ScheduledDays  int
	InactivityDays int
	// BatchSize bounds each query page and each batch write.
	BatchSize int
	// Drain keeps paging until a step is exhausted or the sweep deadline
	// passes. Otherwise each step handles a single page per run.
	Drain          bool
	OrphanSweep    bool
	OrphanPageSize int
	SweepTimeout   time.Duration
	LockTTL        time.Duration
}

func (c *Config) applyDefaults() {
	if c.AnalyticsDays <= 0 {
		c.AnalyticsDays = 90
	}
	if c.DeliveryDays <= 0 {
		c.DeliveryDays = 30
	}
	if c.ScheduledDays <= 0 {
		c.ScheduledDays = 7
	}
	if c.InactivityDays <= 0 {
		c.InactivityDays = 180
	}
	if c.BatchSize <= 0 || c.BatchSize > docstore.MaxBatchSize {
		c.BatchSize = docstore.MaxBatchSize
	}
	if c.OrphanPageSize <= 0 {
		c.OrphanPageSize = 500
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 540 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Minute
	}
}

// Janitor enforces retention windows on the notification collections.
type Janitor interface {
	// RunFullCleanup runs every step in order. Each step commits on its own,
	// so a failing step keeps the progress of earlier ones and does not stop
	// later ones. It returns ErrSweepInProgress when another sweep holds the
	// lock.
	RunFullCleanup(ctx context.Context, trigger string) (*domain.Summary, error)
	CleanupAnalytics(ctx context.Context) domain.StepResult
	CleanupDeliveryLogs(ctx context.Context) domain.StepResult
	CleanupScheduled(ctx context.Context) domain.StepResult
	CleanupSubscriptions(ctx context.Context) domain.StepResult
	SweepOrphans(ctx context.Context) domain.StepResult
	GetStats(ctx context.Context) (*domain.Stats, error)
	// HealthCheck summarises the last window runs.
	HealthCheck(ctx context.Context, window int, threshold float64) (*domain.HealthReport, error)
}

type janitor struct {
	store     docstore.Store
	scheduled schedrepo.ScheduledRepository
	subs      subrepo.SubscriptionRepository
	users     userrepo.Directory
	runs      repository.RunRepository
	locker    lock.Locker
	cfg       Config
	clock     func() time.Time
	logger    zerolog.Logger
}

func NewJanitor(
	store docstore.Store,
	scheduled schedrepo.ScheduledRepository,
	subs subrepo.SubscriptionRepository,
	users userrepo.Directory,
	runs repository.RunRepository,
	locker lock.Locker,
	cfg Config,
	logger zerolog.Logger,
) Janitor {
	cfg.applyDefaults()
	return &janitor{
		store:     store,
		scheduled: scheduled,
		subs:      subs,
		users:     users,
		runs:      runs,
		locker:    locker,
		cfg:       cfg,
		clock:     time.Now,
		logger:    logger,
	}
}

func (j *janitor) cutoff(days int) time.Time {
	return j.clock().Add(-time.Duration(days) * 24 * time.Hour)
}

func (j *janitor) RunFullCleanup(ctx context.Context, trigger string) (*domain.Summary, error) {
	handle, err := j.locker.Acquire(ctx, lockName, j.cfg.LockTTL)
	if errors.Is(err, lock.ErrHeld) {
		metrics.CleanupRuns.WithLabelValues(trigger, "skipped").Inc()
		return nil, domain.ErrSweepInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire sweep lock: %w", err)
	}
	defer func() {
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			j.logger.Warn().Err(err).Msg("failed to release sweep lock")
		}
	}()

	start := j.clock()
	summary := &domain.Summary{
		RunID:     uuid.New().String(),
		Trigger:   trigger,
		StartedAt: start,
		Steps:     make(map[string]domain.StepResult, 5),
		Success:   true,
	}
	log := j.logger.With().Str("run_id", summary.RunID).Str("trigger", trigger).Logger()
	log.Info().Msg("starting retention sweep")

	sweepCtx, cancel := context.WithTimeout(ctx, j.cfg.SweepTimeout)
	defer cancel()

	steps := []struct {
		name string
		run  func(context.Context) domain.StepResult
	}{
		{domain.StepAnalytics, j.CleanupAnalytics},
		{domain.StepDeliveryLogs, j.CleanupDeliveryLogs},
		{domain.StepScheduled, j.CleanupScheduled},
		{domain.StepSubscriptions, j.CleanupSubscriptions},
	}
	if j.cfg.OrphanSweep {
		steps = append(steps, struct {
			name string
			run  func(context.Context) domain.StepResult
		}{domain.StepOrphans, j.SweepOrphans})
	}

	for _, step := range steps {
		res := j.runStep(sweepCtx, step.name, step.run)
		summary.Steps[step.name] = res
		summary.Deleted += res.Deleted
		summary.Updated += res.Updated
		summary.Errors += res.Errors
		if res.Failed() {
			summary.Success = false
			if summary.StepErrors == nil {
				summary.StepErrors = make(map[string]string)
			}
			summary.StepErrors[step.name] = res.Err.Error()
			log.Error().Err(res.Err).Str("step", step.name).Msg("retention step failed")
		}
		metrics.CleanupItems.WithLabelValues(step.name, "deleted").Add(float64(res.Deleted))
		metrics.CleanupItems.WithLabelValues(step.name, "updated").Add(float64(res.Updated))
	}

	summary.Duration = j.clock().Sub(start)
	result := "success"
	if !summary.Success {
		result = "failure"
	}
	metrics.CleanupRuns.WithLabelValues(trigger, result).Inc()
	metrics.CleanupDuration.Observe(summary.Duration.Seconds())

	if err := j.runs.Save(context.WithoutCancel(ctx), summary.Record()); err != nil {
		log.Error().Err(err).Msg("failed to persist cleanup run")
	}
	log.Info().
		Bool("success", summary.Success).
		Int("deleted", summary.Deleted).
		Int("updated", summary.Updated).
		Int("errors", summary.Errors).
		Dur("duration", summary.Duration).
		Msg("retention sweep finished")
	return summary, nil
}

// runStep converts a panic into a failed step.
func (j *janitor) runStep(ctx context.Context, name string, run func(context.Context) domain.StepResult) (res domain.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("step %s panicked: %v", name, r)
		}
	}()
	return run(ctx)
}

func (j *janitor) CleanupAnalytics(ctx context.Context) domain.StepResult {
	return j.purgeBefore(ctx, notifdomain.AnalyticsCollection, j.cutoff(j.cfg.AnalyticsDays))
}

func (j *janitor) CleanupDeliveryLogs(ctx context.Context) domain.StepResult {
	return j.purgeBefore(ctx, notifdomain.DeliveryLogCollection, j.cutoff(j.cfg.DeliveryDays))
}

// purgeBefore deletes documents whose timestamp is older than cutoff.
func (j *janitor) purgeBefore(ctx context.Context, collection string, cutoff time.Time) domain.StepResult {
	var res domain.StepResult
	old := []docstore.Filter{docstore.Where("timestamp", docstore.OpLess, cutoff)}
	for {
		if deadlineReached(ctx) {
			return res
		}
		docs, err := j.store.Query(ctx, collection, docstore.Query{Filters: old, Limit: j.cfg.BatchSize})
		if err != nil {
			return stepError(ctx, res, fmt.Errorf("query %s: %w", collection, err))
		}
		if len(docs) == 0 {
			res.Complete = true
			return res
		}
		ops := make([]docstore.WriteOp, len(docs))
		for i, d := range docs {
			ops[i] = docstore.WriteOp{Kind: docstore.WriteDelete, Collection: collection, ID: d.ID}
		}
		if err := j.store.BatchWrite(ctx, ops); err != nil {
			res.Errors += len(ops)
			return stepError(ctx, res, fmt.Errorf("delete from %s: %w", collection, err))
		}
		res.Deleted += len(ops)
		if len(docs) < j.cfg.BatchSize {
			res.Complete = true
			return res
		}
		if !j.cfg.Drain {
			return res
		}
	}
}

func (j *janitor) CleanupScheduled(ctx context.Context) domain.StepResult {
	var res domain.StepResult
	cutoff := j.cutoff(j.cfg.ScheduledDays)
	for {
		if deadlineReached(ctx) {
			return res
		}
		ids, err := j.scheduled.FindTerminalBefore(ctx, cutoff, j.cfg.BatchSize)
		if err != nil {
			return stepError(ctx, res, err)
		}
		if len(ids) == 0 {
			res.Complete = true
			return res
		}
		n, err := j.scheduled.DeleteTerminal(ctx, ids)
		res.Deleted += n
		if err != nil {
			res.Errors += len(ids) - n
			return stepError(ctx, res, err)
		}
		// Skipped IDs changed status since the query; they are not
		// eligible any more, so the next page still makes progress.
		if len(ids) < j.cfg.BatchSize {
			res.Complete = true
			return res
		}
		if !j.cfg.Drain || n == 0 {
			return res
		}
	}
}

func (j *janitor) CleanupSubscriptions(ctx context.Context) domain.StepResult {
	var res domain.StepResult
	cutoff := j.cutoff(j.cfg.InactivityDays)
	for {
		if deadlineReached(ctx) {
			return res
		}
		n, err := j.subs.MarkStale(ctx, cutoff, j.cfg.BatchSize)
		res.Updated += n
		if err != nil {
			return stepError(ctx, res, err)
		}
		if n > 0 {
			metrics.SubscriptionsDeactivated.WithLabelValues(string(subdomain.ReasonStale)).Add(float64(n))
		}
		if n < j.cfg.BatchSize {
			res.Complete = true
			return res
		}
		if !j.cfg.Drain {
			return res
		}
	}
}

// SweepOrphans deletes subscriptions whose owner no longer exists. It scans
// every page each run, since surviving subscriptions never leave the scan
// order. Lookup failures are counted and skipped.
func (j *janitor) SweepOrphans(ctx context.Context) domain.StepResult {
	var res domain.StepResult
	known := make(map[string]bool)
	after := ""
	for {
		if deadlineReached(ctx) {
			return res
		}
		page, err := j.subs.ScanOwners(ctx, after, j.cfg.OrphanPageSize)
		if err != nil {
			return stepError(ctx, res, err)
		}
		if len(page) == 0 {
			res.Complete = true
			return res
		}
		after = page[len(page)-1].SubscriptionID

		var orphans []string
		for _, o := range page {
			if o.UserID == "" {
				orphans = append(orphans, o.SubscriptionID)
				continue
			}
			exists, seen := known[o.UserID]
			if !seen {
				exists, err = j.users.Exists(ctx, o.UserID)
				if err != nil {
					res.Errors++
					j.logger.Warn().Err(err).Str("user_id", o.UserID).Msg("user lookup failed during orphan sweep")
					continue
				}
				known[o.UserID] = exists
			}
			if !exists {
				orphans = append(orphans, o.SubscriptionID)
			}
		}

		if len(orphans) > 0 {
			if err := j.subs.Delete(ctx, orphans); err != nil {
				res.Errors += len(orphans)
				j.logger.Warn().Err(err).Int("count", len(orphans)).Msg("failed to delete orphaned subscriptions")
			} else {
				res.Deleted += len(orphans)
			}
		}
		if len(page) < j.cfg.OrphanPageSize {
			res.Complete = true
			return res
		}
	}
}

func (j *janitor) GetStats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{
		Collections: make(map[string]int, 4),
		Eligible:    make(map[string]int, 4),
	}
	for name, collection := range map[string]string{
		domain.StepAnalytics:     notifdomain.AnalyticsCollection,
		domain.StepDeliveryLogs:  notifdomain.DeliveryLogCollection,
		domain.StepScheduled:     scheddomain.Collection,
		domain.StepSubscriptions: subdomain.Collection,
	} {
		n, err := j.store.Count(ctx, collection, nil)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", collection, err)
		}
		stats.Collections[name] = n
	}

	terminal := make([]any, len(scheddomain.TerminalStatuses))
	for i, s := range scheddomain.TerminalStatuses {
		terminal[i] = string(s)
	}
	eligible := []struct {
		name       string
		collection string
		filters    []docstore.Filter
	}{
		{domain.StepAnalytics, notifdomain.AnalyticsCollection, []docstore.Filter{
			docstore.Where("timestamp", docstore.OpLess, j.cutoff(j.cfg.AnalyticsDays)),
		}},
		{domain.StepDeliveryLogs, notifdomain.DeliveryLogCollection, []docstore.Filter{
			docstore.Where("timestamp", docstore.OpLess, j.cutoff(j.cfg.DeliveryDays)),
		}},
		{domain.StepScheduled, scheddomain.Collection, []docstore.Filter{
			docstore.Where("status", docstore.OpIn, terminal),
			docstore.Where("updatedAt", docstore.OpLess, j.cutoff(j.cfg.ScheduledDays)),
		}},
		{domain.StepSubscriptions, subdomain.Collection, []docstore.Filter{
			docstore.Where("status", docstore.OpEqual, string(subdomain.StatusActive)),
			docstore.Where("lastUsedAt", docstore.OpLess, j.cutoff(j.cfg.InactivityDays)),
		}},
	}
	for _, e := range eligible {
		n, err := j.store.Count(ctx, e.collection, e.filters)
		if err != nil {
			return nil, fmt.Errorf("count eligible %s: %w", e.collection, err)
		}
		stats.Eligible[e.name] = n
	}

	recent, err := j.runs.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		stats.LastRun = &recent[0]
	}
	return stats, nil
}

func (j *janitor) HealthCheck(ctx context.Context, window int, threshold float64) (*domain.HealthReport, error) {
	if window <= 0 {
		window = 7
	}
	if threshold <= 0 {
		threshold = 0.8
	}
	runs, err := j.runs.Recent(ctx, window)
	if err != nil {
		return nil, err
	}

	report := &domain.HealthReport{Runs: len(runs), CheckedAt: j.clock()}
	for _, r := range runs {
		if r.Success {
			report.Successful++
		}
	}
	if report.Runs == 0 {
		report.Warning = "no cleanup runs recorded"
		return report, nil
	}
	report.SuccessRate = float64(report.Successful) / float64(report.Runs)
	report.Healthy = report.SuccessRate >= threshold
	if !report.Healthy {
		report.Warning = fmt.Sprintf("cleanup success rate %.0f%% over the last %d runs is below %.0f%%",
			report.SuccessRate*100, report.Runs, threshold*100)
	}
	return report, nil
}

func deadlineReached(ctx context.Context) bool {
	return ctx.Err() != nil
}

// stepError records err unless it only reflects the sweep deadline, which
// leaves the step incomplete rather than failed.
func stepError(ctx context.Context, res domain.StepResult, err error) domain.StepResult {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return res
	}
	res.Err = err
	return res
}
