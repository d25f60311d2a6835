package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds every runtime setting for the service. Values are read from
// environment variables; a .env file is honored when present.
type Config struct {
	Address string

	DBDriver string // "postgres" or "sqlite"
	DBDSN    string

	AdminToken    string
	WebhookSecret string

	Provider ProviderConfig

	Scheduler SchedulerConfig

	DefaultCountryCode string

	RabbitMQ RabbitMQConfig
	S3       S3Config
}

// ProviderConfig configures the outbound messaging provider API.
type ProviderConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SchedulerConfig controls the dispatch loop.
type SchedulerConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimLease time.Duration
}

// RabbitMQConfig configures the optional AMQP event sink. Publishing is
// disabled entirely when URL is empty.
type RabbitMQConfig struct {
	URL            string
	Queue          string
	QueuePrefix    string
	SpecificEvents map[string]bool
}

// S3Config configures the optional campaign media store. The store is
// disabled when Bucket is empty.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	PublicURL string
}

// Load reads the configuration from the environment. Missing optional values
// fall back to defaults; a broken value fails loudly.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded environment from .env file")
	}

	cfg := &Config{
		Address:            envStr("ADDRESS", ":8080"),
		DBDriver:           envStr("DB_DRIVER", "sqlite"),
		DBDSN:              envStr("DB_DSN", "file:zapblast.db?_pragma=foreign_keys(1)"),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		DefaultCountryCode: envStr("DEFAULT_COUNTRY_CODE", "55"),
		Provider: ProviderConfig{
			BaseURL: envStr("PROVIDER_BASE_URL", "https://graph.facebook.com/v19.0"),
			Timeout: envDur("PROVIDER_TIMEOUT", 15*time.Second),
		},
		Scheduler: SchedulerConfig{
			Interval:   envDur("SCHEDULER_INTERVAL", 5*time.Second),
			BatchSize:  envInt("DISPATCH_BATCH_SIZE", 20),
			ClaimLease: envDur("DISPATCH_CLAIM_LEASE", 2*time.Minute),
		},
		RabbitMQ: RabbitMQConfig{
			URL:            os.Getenv("RABBITMQ_URL"),
			Queue:          envStr("RABBITMQ_QUEUE", "campaign_events"),
			QueuePrefix:    envStr("RABBITMQ_QUEUE_PREFIX", "zapblast"),
			SpecificEvents: splitSet(os.Getenv("AMQP_SPECIFIC_EVENTS")),
		},
		S3: S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    envStr("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			PathStyle: envBool("S3_PATH_STYLE", false),
			PublicURL: os.Getenv("S3_PUBLIC_URL"),
		},
	}

	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.Scheduler.BatchSize <= 0 {
		return nil, fmt.Errorf("DISPATCH_BATCH_SIZE must be > 0")
	}
	if cfg.Scheduler.Interval <= 0 {
		return nil, fmt.Errorf("SCHEDULER_INTERVAL must be > 0")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer env var, using default")
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration env var, using default")
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitSet(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			set[part] = true
		}
	}
	return set
}
