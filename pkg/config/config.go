package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/clubnotify/config.yaml",
}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	Google    GoogleConfig    `koanf:"google"`
	Store     StoreConfig     `koanf:"store"`
	Redis     RedisConfig     `koanf:"redis"`
	WebPush   WebPushConfig   `koanf:"webpush"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	Delivery  DeliveryConfig  `koanf:"delivery"`
	Retention RetentionConfig `koanf:"retention"`
	Cleanup   CleanupConfig   `koanf:"cleanup"`
	Scheduled ScheduledConfig `koanf:"scheduled"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	GinMode         string        `koanf:"gin_mode"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	// SchedulerKeyHash is the bcrypt hash of the key cron callers present
	// in X-Scheduler-Key. Empty disables key-based access.
	SchedulerKeyHash string `koanf:"scheduler_key_hash"`
}

type GoogleConfig struct {
	ProjectID       string `koanf:"project_id"`
	CredentialsFile string `koanf:"credentials_file"`
	PubSubTopic     string `koanf:"pubsub_topic"`
}

type StoreConfig struct {
	// Driver selects the document store: memory, firestore or postgres.
	Driver      string `koanf:"driver"`
	PostgresDSN string `koanf:"postgres_dsn"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type WebPushConfig struct {
	VAPIDPublicKey  string `koanf:"vapid_public_key"`
	VAPIDPrivateKey string `koanf:"vapid_private_key"`
	Subscriber      string `koanf:"subscriber"`
	TTL             int    `koanf:"ttl"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	ReplyTo  string `koanf:"reply_to"`
}

type DeliveryConfig struct {
	ChannelOrder       []string      `koanf:"channel_order"`
	RequireAll         bool          `koanf:"require_all"`
	BulkWindow         int           `koanf:"bulk_window"`
	NativeBatchSize    int           `koanf:"native_batch_size"`
	BulkRatePerSecond  float64       `koanf:"bulk_rate_per_second"`
	AnalyticsDedupTTL  time.Duration `koanf:"analytics_dedup_ttl"`
	AnalyticsDedupSize int           `koanf:"analytics_dedup_size"`
	AnalyticsWorkers   int           `koanf:"analytics_workers"`
	AnalyticsQueueSize int           `koanf:"analytics_queue_size"`
}

// RetentionConfig carries the sweep windows. Delivery and scheduled
// retention differ between deployments, so neither is fixed in code.
type RetentionConfig struct {
	AnalyticsDays  int           `koanf:"analytics_days"`
	DeliveryDays   int           `koanf:"delivery_days"`
	ScheduledDays  int           `koanf:"scheduled_days"`
	InactivityDays int           `koanf:"inactivity_days"`
	BatchSize      int           `koanf:"batch_size"`
	Drain          bool          `koanf:"drain"`
	OrphanSweep    bool          `koanf:"orphan_sweep"`
	OrphanPageSize int           `koanf:"orphan_page_size"`
	SweepTimeout   time.Duration `koanf:"sweep_timeout"`
	LockTTL        time.Duration `koanf:"lock_ttl"`
}

type CleanupConfig struct {
	DailySpec       string        `koanf:"daily_spec"`
	WeeklySpec      string        `koanf:"weekly_spec"`
	Timezone        string        `koanf:"timezone"`
	RetryAttempts   uint          `koanf:"retry_attempts"`
	RetryDelay      time.Duration `koanf:"retry_delay"`
	HealthWindow    int           `koanf:"health_window"`
	HealthThreshold float64       `koanf:"health_threshold"`
}

type ScheduledConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchLimit   int           `koanf:"batch_limit"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Auth: AuthConfig{
			JWTSecret: "your-secret-key-change-in-production",
		},
		Google: GoogleConfig{PubSubTopic: "notification-requests"},
		Store:  StoreConfig{Driver: "memory"},
		WebPush: WebPushConfig{
			Subscriber: "notifications@example.com",
			TTL:        86400,
		},
		SMTP: SMTPConfig{Port: 587},
		Delivery: DeliveryConfig{
			ChannelOrder:       []string{"native-push", "web-push", "email"},
			BulkWindow:         100,
			NativeBatchSize:    500,
			AnalyticsDedupTTL:  5 * time.Minute,
			AnalyticsDedupSize: 10000,
			AnalyticsWorkers:   2,
			AnalyticsQueueSize: 1000,
		},
		Retention: RetentionConfig{
			AnalyticsDays:  90,
			DeliveryDays:   30,
			ScheduledDays:  7,
			InactivityDays: 180,
			BatchSize:      500,
			OrphanSweep:    true,
			OrphanPageSize: 500,
			SweepTimeout:   540 * time.Second,
			LockTTL:        15 * time.Minute,
		},
		Cleanup: CleanupConfig{
			DailySpec:       "0 2 * * *",
			WeeklySpec:      "0 9 * * 1",
			Timezone:        "Europe/Rome",
			RetryAttempts:   3,
			RetryDelay:      30 * time.Second,
			HealthWindow:    7,
			HealthThreshold: 0.8,
		},
		Scheduled: ScheduledConfig{
			PollInterval: time.Minute,
			BatchLimit:   50,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing priority. A .env file is loaded first
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"port":                    "server.port",
	"gin_mode":                "server.gin_mode",
	"shutdown_timeout":        "server.shutdown_timeout",
	"log_level":               "log.level",
	"log_format":              "log.format",
	"log_caller":              "log.caller",
	"jwt_secret":              "auth.jwt_secret",
	"scheduler_key_hash":      "auth.scheduler_key_hash",
	"google_project_id":       "google.project_id",
	"google_credentials":      "google.credentials_file",
	"firebase_credentials":    "google.credentials_file",
	"google_pubsub_topic":     "google.pubsub_topic",
	"store_driver":            "store.driver",
	"database_url":            "store.postgres_dsn",
	"redis_addr":              "redis.addr",
	"redis_password":          "redis.password",
	"redis_db":                "redis.db",
	"vapid_public_key":        "webpush.vapid_public_key",
	"vapid_private_key":       "webpush.vapid_private_key",
	"vapid_subscriber":        "webpush.subscriber",
	"webpush_ttl":             "webpush.ttl",
	"smtp_host":               "smtp.host",
	"smtp_port":               "smtp.port",
	"smtp_username":           "smtp.username",
	"smtp_password":           "smtp.password",
	"smtp_from":               "smtp.from",
	"smtp_reply_to":           "smtp.reply_to",
	"channel_order":           "delivery.channel_order",
	"delivery_require_all":    "delivery.require_all",
	"bulk_window":             "delivery.bulk_window",
	"native_batch_size":       "delivery.native_batch_size",
	"bulk_rate_per_second":    "delivery.bulk_rate_per_second",
	"analytics_dedup_ttl":     "delivery.analytics_dedup_ttl",
	"analytics_workers":       "delivery.analytics_workers",
	"analytics_retention":     "retention.analytics_days",
	"delivery_retention":      "retention.delivery_days",
	"scheduled_retention":     "retention.scheduled_days",
	"inactivity_days":         "retention.inactivity_days",
	"cleanup_batch_size":      "retention.batch_size",
	"cleanup_drain":           "retention.drain",
	"cleanup_orphan_sweep":    "retention.orphan_sweep",
	"cleanup_sweep_timeout":   "retention.sweep_timeout",
	"cleanup_lock_ttl":        "retention.lock_ttl",
	"cleanup_daily_spec":      "cleanup.daily_spec",
	"cleanup_weekly_spec":     "cleanup.weekly_spec",
	"cleanup_timezone":        "cleanup.timezone",
	"cleanup_retry_attempts":  "cleanup.retry_attempts",
	"cleanup_health_window":   "cleanup.health_window",
	"scheduled_poll_interval": "scheduled.poll_interval",
}

var sliceKeys = map[string]bool{
	"delivery.channel_order": true,
}

// envTransform maps known environment variables onto config paths. Unknown
// variables are dropped.
func envTransform(key, value string) (string, interface{}) {
	mapped, ok := envMappings[strings.ToLower(key)]
	if !ok {
		return "", nil
	}
	if sliceKeys[mapped] {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return mapped, out
	}
	return mapped, value
}

// Location resolves the cleanup timezone.
func (c *CleanupConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
