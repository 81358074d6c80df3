package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"clubnotify/internal/cleanup/domain"
	"clubnotify/internal/cleanup/usecase"
	"clubnotify/pkg/metrics"
)

type Config struct {
	DailySpec       string
	WeeklySpec      string
	Location        *time.Location
	RetryAttempts   uint
	RetryDelay      time.Duration
	HealthWindow    int
	HealthThreshold float64
}

// CleanupScheduler runs the daily retention sweep and the weekly health
// check on a wall-clock schedule.
type CleanupScheduler struct {
	janitor usecase.Janitor
	cfg     Config
	logger  zerolog.Logger
}

func NewCleanupScheduler(janitor usecase.Janitor, cfg Config, logger zerolog.Logger) *CleanupScheduler {
	if cfg.DailySpec == "" {
		cfg.DailySpec = "0 2 * * *"
	}
	if cfg.WeeklySpec == "" {
		cfg.WeeklySpec = "0 9 * * 1"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	return &CleanupScheduler{janitor: janitor, cfg: cfg, logger: logger}
}

func (s *CleanupScheduler) String() string { return "cleanup-scheduler" }

// Serve registers both jobs and blocks until ctx is cancelled, then waits
// for a running job to finish.
func (s *CleanupScheduler) Serve(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.cfg.Location))

	if _, err := c.AddFunc(s.cfg.DailySpec, func() {
		if _, err := s.RunDaily(ctx); err != nil {
			s.logger.Error().Err(err).Msg("daily retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid daily cleanup schedule %q: %w", s.cfg.DailySpec, err)
	}
	if _, err := c.AddFunc(s.cfg.WeeklySpec, func() {
		if _, err := s.RunWeekly(ctx); err != nil {
			s.logger.Error().Err(err).Msg("weekly cleanup health check failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid weekly health schedule %q: %w", s.cfg.WeeklySpec, err)
	}

	s.logger.Info().
		Str("daily", s.cfg.DailySpec).
		Str("weekly", s.cfg.WeeklySpec).
		Str("timezone", s.cfg.Location.String()).
		Msg("starting cleanup scheduler")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info().Msg("cleanup scheduler stopped")
	return ctx.Err()
}

// RunDaily runs a full sweep, retrying failed sweeps up to RetryAttempts
// times in total. A sweep already in progress elsewhere is not retried.
func (s *CleanupScheduler) RunDaily(ctx context.Context) (*domain.Summary, error) {
	var summary *domain.Summary
	inProgress := false
	err := retry.Do(
		func() error {
			res, err := s.janitor.RunFullCleanup(ctx, domain.TriggerDaily)
			if errors.Is(err, domain.ErrSweepInProgress) {
				inProgress = true
				return retry.Unrecoverable(err)
			}
			if err != nil {
				return err
			}
			summary = res
			if !res.Success {
				return fmt.Errorf("sweep %s finished with %d failed steps", res.RunID, len(res.StepErrors))
			}
			return nil
		},
		retry.Attempts(s.cfg.RetryAttempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().Err(err).Uint("attempt", n+1).Msg("retrying retention sweep")
		}),
	)
	if inProgress {
		s.logger.Info().Msg("retention sweep already running, skipping")
		return nil, domain.ErrSweepInProgress
	}
	return summary, err
}

// RunWeekly evaluates recent runs and publishes the success rate. A low
// rate is reported as a warning, never as an error.
func (s *CleanupScheduler) RunWeekly(ctx context.Context) (*domain.HealthReport, error) {
	report, err := s.janitor.HealthCheck(ctx, s.cfg.HealthWindow, s.cfg.HealthThreshold)
	if err != nil {
		return nil, err
	}
	metrics.CleanupSuccessRate.Set(report.SuccessRate)

	if !report.Healthy {
		s.logger.Warn().
			Int("runs", report.Runs).
			Int("successful", report.Successful).
			Float64("success_rate", report.SuccessRate).
			Msg(report.Warning)
		return report, nil
	}
	s.logger.Info().
		Int("runs", report.Runs).
		Float64("success_rate", report.SuccessRate).
		Msg("cleanup health check passed")
	return report, nil
}
