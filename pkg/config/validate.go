package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

var validChannels = map[string]bool{
	"native-push": true,
	"web-push":    true,
	"email":       true,
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory", "firestore":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, firestore, postgres", c.Store.Driver))
	}
	if c.Store.Driver == "firestore" && c.Google.ProjectID == "" {
		errs = append(errs, errors.New("google.project_id is required for the firestore driver"))
	}

	if len(c.Delivery.ChannelOrder) == 0 {
		errs = append(errs, errors.New("delivery.channel_order must not be empty"))
	}
	seen := make(map[string]bool)
	for _, ch := range c.Delivery.ChannelOrder {
		if !validChannels[ch] {
			errs = append(errs, fmt.Errorf("delivery.channel_order: unknown channel %q", ch))
		}
		if seen[ch] {
			errs = append(errs, fmt.Errorf("delivery.channel_order: duplicate channel %q", ch))
		}
		seen[ch] = true
	}
	if c.Delivery.BulkWindow <= 0 {
		errs = append(errs, errors.New("delivery.bulk_window must be positive"))
	}
	if c.Delivery.NativeBatchSize <= 0 || c.Delivery.NativeBatchSize > 500 {
		errs = append(errs, errors.New("delivery.native_batch_size must be between 1 and 500"))
	}

	r := c.Retention
	for name, days := range map[string]int{
		"retention.analytics_days":  r.AnalyticsDays,
		"retention.delivery_days":   r.DeliveryDays,
		"retention.scheduled_days":  r.ScheduledDays,
		"retention.inactivity_days": r.InactivityDays,
	} {
		if days <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if r.BatchSize <= 0 || r.BatchSize > 500 {
		errs = append(errs, errors.New("retention.batch_size must be between 1 and 500"))
	}
	if r.SweepTimeout <= 0 {
		errs = append(errs, errors.New("retention.sweep_timeout must be positive"))
	}

	if _, err := cron.ParseStandard(c.Cleanup.DailySpec); err != nil {
		errs = append(errs, fmt.Errorf("cleanup.daily_spec: %w", err))
	}
	if _, err := cron.ParseStandard(c.Cleanup.WeeklySpec); err != nil {
		errs = append(errs, fmt.Errorf("cleanup.weekly_spec: %w", err))
	}
	if _, err := c.Cleanup.Location(); err != nil {
		errs = append(errs, fmt.Errorf("cleanup.timezone: %w", err))
	}
	if c.Cleanup.HealthThreshold <= 0 || c.Cleanup.HealthThreshold > 1 {
		errs = append(errs, errors.New("cleanup.health_threshold must be in (0, 1]"))
	}

	return errors.Join(errs...)
}
