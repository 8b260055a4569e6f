package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlaceholderToken is the value shipped in the .env template. It is treated
// the same as a missing token.
const PlaceholderToken = "YOUR_BEARER_TOKEN_HERE"

const (
	PublishModeLive   = "live"
	PublishModeDryRun = "dry_run"
)

// Config holds all configuration for the threadpost server.
type Config struct {
	Server   ServerConfig
	X        XConfig
	Thread   ThreadConfig
	Publish  PublishConfig
	Jobs     JobsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
	IdempotencyTTL     time.Duration
}

type XConfig struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

// Configured reports whether usable credentials are present.
func (c XConfig) Configured() bool {
	token := strings.TrimSpace(c.BearerToken)
	return token != "" && token != PlaceholderToken
}

type ThreadConfig struct {
	MaxPosts         int
	MaxPostLength    int
	Delay            time.Duration
	MaxDelayOverride time.Duration
}

type PublishConfig struct {
	Mode             string
	RatePerMinute    int
	BreakerThreshold int
	BreakerDelay     time.Duration
}

type JobsConfig struct {
	MaxRetained int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

// Enabled reports whether the API-key store is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

type RedisConfig struct {
	URL string
}

// Enabled reports whether the cache is configured.
func (c RedisConfig) Enabled() bool { return c.URL != "" }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether lifecycle events are published.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

var validPublishModes = map[string]bool{
	PublishModeLive:   true,
	PublishModeDryRun: true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Missing X credentials are not an error: the server starts and reports
// itself degraded until a token is supplied.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("PORT", 3000),
			Env:                envString("THREADPOST_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			IdempotencyTTL:     envDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		X: XConfig{
			BaseURL:     envString("X_API_BASE_URL", envString("TWITTER_API_BASE", "https://api.x.com/2/tweets")),
			BearerToken: envString("X_BEARER_TOKEN", os.Getenv("TWITTER_BEARER_TOKEN")),
			Timeout:     envDuration("X_REQUEST_TIMEOUT", 15*time.Second),
		},
		Thread: ThreadConfig{
			MaxPosts:         envInt("MAX_TWEETS_PER_THREAD", 25),
			MaxPostLength:    envInt("MAX_TWEET_LENGTH", 280),
			Delay:            envMillis("DELAY_BETWEEN_TWEETS", 10*time.Second),
			MaxDelayOverride: envMillis("MAX_DELAY_OVERRIDE", 5*time.Minute),
		},
		Publish: PublishConfig{
			Mode:             envString("PUBLISH_MODE", PublishModeLive),
			RatePerMinute:    envInt("PUBLISH_RATE_PER_MINUTE", 0),
			BreakerThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerDelay:     envDuration("BREAKER_DELAY", 60*time.Second),
		},
		Jobs: JobsConfig{
			MaxRetained: envInt("JOB_MAX_RETAINED", 0),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 5),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 1),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", "threadpost.events"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !strings.HasPrefix(c.X.BaseURL, "http://") && !strings.HasPrefix(c.X.BaseURL, "https://") {
		return fmt.Errorf("X_API_BASE_URL must start with http:// or https://, got %q", c.X.BaseURL)
	}
	if c.X.Timeout <= 0 {
		return fmt.Errorf("X_REQUEST_TIMEOUT must be positive")
	}

	if c.Thread.MaxPosts < 1 {
		return fmt.Errorf("MAX_TWEETS_PER_THREAD must be at least 1, got %d", c.Thread.MaxPosts)
	}
	if c.Thread.MaxPostLength < 1 {
		return fmt.Errorf("MAX_TWEET_LENGTH must be at least 1, got %d", c.Thread.MaxPostLength)
	}
	if c.Thread.Delay < 0 {
		return fmt.Errorf("DELAY_BETWEEN_TWEETS must not be negative")
	}
	if c.Thread.MaxDelayOverride < c.Thread.Delay {
		return fmt.Errorf("MAX_DELAY_OVERRIDE must be at least DELAY_BETWEEN_TWEETS")
	}

	if !validPublishModes[c.Publish.Mode] {
		return fmt.Errorf("PUBLISH_MODE must be one of live, dry_run; got %q", c.Publish.Mode)
	}
	if c.Publish.RatePerMinute < 0 {
		return fmt.Errorf("PUBLISH_RATE_PER_MINUTE must not be negative")
	}
	if c.Publish.BreakerThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}

	if c.Jobs.MaxRetained < 0 {
		return fmt.Errorf("JOB_MAX_RETAINED must not be negative")
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
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

// envMillis reads a plain integer number of milliseconds.
func envMillis(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
