package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Retention.AnalyticsDays != 90 || cfg.Retention.DeliveryDays != 30 ||
		cfg.Retention.ScheduledDays != 7 || cfg.Retention.InactivityDays != 180 {
		t.Errorf("unexpected retention defaults: %+v", cfg.Retention)
	}
	if cfg.Cleanup.DailySpec != "0 2 * * *" || cfg.Cleanup.WeeklySpec != "0 9 * * 1" {
		t.Errorf("unexpected cron defaults: %+v", cfg.Cleanup)
	}
	if cfg.Cleanup.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.Cleanup.RetryAttempts)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")
	t.Setenv("DELIVERY_RETENTION", "60")
	t.Setenv("SCHEDULED_RETENTION", "30")
	t.Setenv("CHANNEL_ORDER", "web-push, email")
	t.Setenv("CLEANUP_SWEEP_TIMEOUT", "2m")
	t.Setenv("SOME_UNRELATED_VAR", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retention.DeliveryDays != 60 {
		t.Errorf("DeliveryDays = %d, want 60", cfg.Retention.DeliveryDays)
	}
	if cfg.Retention.ScheduledDays != 30 {
		t.Errorf("ScheduledDays = %d, want 30", cfg.Retention.ScheduledDays)
	}
	if got := strings.Join(cfg.Delivery.ChannelOrder, ","); got != "web-push,email" {
		t.Errorf("ChannelOrder = %q", got)
	}
	if cfg.Retention.SweepTimeout != 2*time.Minute {
		t.Errorf("SweepTimeout = %v, want 2m", cfg.Retention.SweepTimeout)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "postgres_dsn"},
		{"firestore without project", func(c *Config) { c.Store.Driver = "firestore" }, "project_id"},
		{"unknown channel", func(c *Config) { c.Delivery.ChannelOrder = []string{"sms"} }, "unknown channel"},
		{"duplicate channel", func(c *Config) { c.Delivery.ChannelOrder = []string{"email", "email"} }, "duplicate"},
		{"batch too large", func(c *Config) { c.Retention.BatchSize = 501 }, "batch_size"},
		{"zero retention", func(c *Config) { c.Retention.AnalyticsDays = 0 }, "analytics_days"},
		{"bad cron", func(c *Config) { c.Cleanup.DailySpec = "every day" }, "daily_spec"},
		{"bad timezone", func(c *Config) { c.Cleanup.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad threshold", func(c *Config) { c.Cleanup.HealthThreshold = 1.5 }, "health_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
