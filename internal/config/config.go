package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds all configuration for the autopost server.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Publish   PublishConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// SchedulerConfig controls the claim-and-dispatch loop.
type SchedulerConfig struct {
	Enabled        bool
	Interval       time.Duration
	BatchSize      int
	OwnerID        uuid.UUID // uuid.Nil scopes the loop to every owner
	JobConcurrency int
	StaleAfter     time.Duration // 0 disables the stalled in-flight reclaim
	MaxClaims      int
}

type PublishConfig struct {
	Timeout    time.Duration
	RatePerSec int
	DryRun     bool
	Relay      RelayConfig
	Telegram   TelegramConfig
}

// RelayConfig points at the HTTP publishing function shared by most platforms.
type RelayConfig struct {
	URL       string
	APIKey    string
	Platforms []string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

type RateLimitConfig struct {
	RequestsPerMin int
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

var validDrivers = map[string]bool{
	StoreDriverPostgres: true,
	StoreDriverMemory:   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("AUTOPOST_PORT", 8080),
			Env:  envString("AUTOPOST_ENV", "development"),
		},
		Store: StoreConfig{
			Driver: envString("STORE_DRIVER", StoreDriverPostgres),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        envBool("SCHEDULER_ENABLED", true),
			Interval:       envDuration("SCHEDULER_INTERVAL", 30*time.Second),
			BatchSize:      envInt("SCHEDULER_BATCH_SIZE", 5),
			JobConcurrency: envInt("SCHEDULER_JOB_CONCURRENCY", 1),
			StaleAfter:     envDuration("SCHEDULER_STALE_AFTER", 15*time.Minute),
			MaxClaims:      envInt("SCHEDULER_MAX_CLAIMS", 3),
		},
		Publish: PublishConfig{
			Timeout:    envDurationSecs("PUBLISH_TIMEOUT_SECS", 60*time.Second),
			RatePerSec: envInt("PUBLISH_RATE_PER_SEC", 2),
			DryRun:     envBool("PUBLISH_DRY_RUN", false),
			Relay: RelayConfig{
				URL:       os.Getenv("RELAY_URL"),
				APIKey:    os.Getenv("RELAY_API_KEY"),
				Platforms: envList("RELAY_PLATFORMS", []string{"youtube", "tiktok", "instagram", "facebook", "twitter", "linkedin"}),
			},
			Telegram: TelegramConfig{
				BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
	}

	if raw := os.Getenv("SCHEDULER_OWNER_ID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("SCHEDULER_OWNER_ID must be a UUID, got %q", raw)
		}
		cfg.Scheduler.OwnerID = id
	}

	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID must be an integer, got %q", raw)
		}
		cfg.Publish.Telegram.ChatID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("STORE_DRIVER must be one of postgres, memory; got %q", c.Store.Driver)
	}
	if c.Store.Driver == StoreDriverPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1s, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.BatchSize < 1 || c.Scheduler.BatchSize > 100 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be between 1 and 100, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.JobConcurrency < 1 {
		return fmt.Errorf("SCHEDULER_JOB_CONCURRENCY must be at least 1, got %d", c.Scheduler.JobConcurrency)
	}
	if c.Scheduler.StaleAfter < 0 {
		return fmt.Errorf("SCHEDULER_STALE_AFTER must not be negative, got %s", c.Scheduler.StaleAfter)
	}
	if c.Scheduler.MaxClaims < 1 {
		return fmt.Errorf("SCHEDULER_MAX_CLAIMS must be at least 1, got %d", c.Scheduler.MaxClaims)
	}

	if c.Publish.Timeout <= 0 {
		return fmt.Errorf("PUBLISH_TIMEOUT_SECS must be positive")
	}

	relay := c.Publish.Relay
	if relay.URL != "" && !strings.HasPrefix(relay.URL, "http://") && !strings.HasPrefix(relay.URL, "https://") {
		return fmt.Errorf("RELAY_URL must start with http:// or https://, got %q", relay.URL)
	}

	tg := c.Publish.Telegram
	if tg.BotToken != "" && tg.ChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	if !c.Publish.DryRun && relay.URL == "" && tg.BotToken == "" {
		return fmt.Errorf("no publisher configured: set RELAY_URL or TELEGRAM_BOT_TOKEN, or enable PUBLISH_DRY_RUN")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envList splits a comma-separated value, dropping blanks.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
