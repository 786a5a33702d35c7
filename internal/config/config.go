// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the service configuration
type Config struct {
	Port              string
	GinMode           string
	DataDir           string
	ScoringConfigPath string
	AllowedOrigins    []string
	LogLevel          string

	RedisURL     string
	RedisEnabled bool

	KafkaBrokers    []string
	KafkaAlertTopic string

	SlackWebhookURL string
	SlackChannel    string

	NotifyRatePerHour int
	StaleMaxAge       time.Duration
	DismissCooldown   time.Duration
	EventBuffer       int
}

// Load reads the environment. Malformed numbers are reported rather than
// silently replaced by defaults.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := func(key, defaultValue string) string {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			return value
		}
		return defaultValue
	}

	dataDir := env("DATA_DIR", "./data")
	cfg := &Config{
		Port:              env("PORT", "8080"),
		GinMode:           env("GIN_MODE", "release"),
		DataDir:           dataDir,
		ScoringConfigPath: env("SCORING_CONFIG", filepath.Join(dataDir, "scoring.yaml")),
		AllowedOrigins:    splitList(env("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		LogLevel:          env("LOG_LEVEL", "info"),
		RedisURL:          env("REDIS_URL", "redis://localhost:6379/0"),
		KafkaBrokers:      splitList(getenv("KAFKA_BROKERS")),
		KafkaAlertTopic:   env("KAFKA_ALERT_TOPIC", "health.alerts"),
		SlackWebhookURL:   getenv("SLACK_WEBHOOK_URL"),
		SlackChannel:      getenv("SLACK_CHANNEL"),
	}

	var err error
	if cfg.RedisEnabled, err = parseBool("REDIS_ENABLED", env("REDIS_ENABLED", "false")); err != nil {
		return nil, err
	}
	if cfg.NotifyRatePerHour, err = parseInt("NOTIFY_RATE_PER_HOUR", env("NOTIFY_RATE_PER_HOUR", "30")); err != nil {
		return nil, err
	}
	if cfg.EventBuffer, err = parseInt("EVENT_BUFFER", env("EVENT_BUFFER", "256")); err != nil {
		return nil, err
	}
	staleHours, err := parseInt("STALE_MAX_AGE_HOURS", env("STALE_MAX_AGE_HOURS", "24"))
	if err != nil {
		return nil, err
	}
	cfg.StaleMaxAge = time.Duration(staleHours) * time.Hour

	// 0 disables the cooldown
	cooldownHours, err := parseInt("DISMISS_COOLDOWN_HOURS", env("DISMISS_COOLDOWN_HOURS", "168"))
	if err != nil {
		return nil, err
	}
	cfg.DismissCooldown = time.Duration(cooldownHours) * time.Hour

	return cfg, nil
}

// KafkaEnabled reports whether alerts are also published to Kafka
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// SlackEnabled reports whether alerts are posted to Slack
func (c *Config) SlackEnabled() bool {
	return c.SlackWebhookURL != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %d", key, n)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, value)
	}
	return b, nil
}
