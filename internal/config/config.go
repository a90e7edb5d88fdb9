// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// IPUBaseURL is the base URL of the upstream examination portal.
	IPUBaseURL string
	// UpstreamTimeout bounds each captcha/login/result call to the portal.
	UpstreamTimeout time.Duration
	// SessionTTL is the lifetime of an upstream portal session entry.
	SessionTTL time.Duration

	// SessionStore selects the session store backend: "memory" or "redis".
	SessionStore  string
	RedisAddr     string
	RedisPassword string

	// RankboardMinParticipants hides the rankboard below this many opted-in
	// students to avoid de-anonymizing small cohorts.
	RankboardMinParticipants int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                     getEnv("PORT", "8080"),
		FrontendURL:              getEnv("FRONTEND_URL", ""),
		DBPath:                   getEnv("DB_PATH", "./data/ipulse.db"),
		IPUBaseURL:               getEnv("IPU_BASE_URL", "https://examweb.ggsipu.ac.in/web"),
		UpstreamTimeout:          getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		SessionTTL:               30 * time.Minute,
		SessionStore:             getEnv("SESSION_STORE", "memory"),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            getEnv("REDIS_PASSWORD", ""),
		RankboardMinParticipants: getEnvInt("RANKBOARD_MIN_PARTICIPANTS", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.IPUBaseURL == "" {
		return fmt.Errorf("IPU_BASE_URL cannot be empty")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be > 0")
	}
	switch c.SessionStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("SESSION_STORE must be \"memory\" or \"redis\", got %q", c.SessionStore)
	}
	if c.SessionStore == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR cannot be empty when SESSION_STORE=redis")
	}
	if c.RankboardMinParticipants < 1 {
		return fmt.Errorf("RANKBOARD_MIN_PARTICIPANTS must be >= 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
