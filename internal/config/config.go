// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken      string
	GitHubAPIURL     string
	PollInterval     time.Duration
	FetchTimeout     time.Duration
	PollConcurrency  int
	ListenAddr       string
	DBPath           string
	DatabaseURL      string
	ChatWebhookURL   string
	ChatWebhookToken string
	CommandToken     string
	SeedFile         string
	PersistMarks     bool
}

// UsePostgres reports whether the registry lives in PostgreSQL rather than SQLite.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// The GitHub token is optional; without it polling runs unauthenticated at the
// lower anonymous rate limit.
// Optional variables with defaults: REPOWATCH_POLL_INTERVAL (60s),
// REPOWATCH_FETCH_TIMEOUT (20s), REPOWATCH_POLL_CONCURRENCY (4),
// REPOWATCH_LISTEN_ADDR (127.0.0.1:8080), REPOWATCH_DB_PATH (repowatch.db).
func Load() (*Config, error) {
	cfg := &Config{
		GitHubToken:      os.Getenv("REPOWATCH_GITHUB_TOKEN"),
		GitHubAPIURL:     "https://api.github.com/",
		PollInterval:     60 * time.Second,
		FetchTimeout:     20 * time.Second,
		PollConcurrency:  4,
		ListenAddr:       "127.0.0.1:8080",
		DBPath:           "repowatch.db",
		DatabaseURL:      os.Getenv("REPOWATCH_DATABASE_URL"),
		ChatWebhookURL:   os.Getenv("REPOWATCH_CHAT_WEBHOOK_URL"),
		ChatWebhookToken: os.Getenv("REPOWATCH_CHAT_WEBHOOK_TOKEN"),
		CommandToken:     os.Getenv("REPOWATCH_COMMAND_TOKEN"),
		SeedFile:         os.Getenv("REPOWATCH_SEED_FILE"),
	}

	if v, ok := os.LookupEnv("REPOWATCH_GITHUB_API_URL"); ok && v != "" {
		cfg.GitHubAPIURL = v
	}
	if v, ok := os.LookupEnv("REPOWATCH_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("REPOWATCH_DB_PATH"); ok {
		cfg.DBPath = v
	}

	var err error
	if cfg.PollInterval, err = durationEnv("REPOWATCH_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = durationEnv("REPOWATCH_FETCH_TIMEOUT", cfg.FetchTimeout); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("REPOWATCH_POLL_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("REPOWATCH_POLL_CONCURRENCY must be a positive integer, got %q", v)
		}
		cfg.PollConcurrency = n
	}

	if v, ok := os.LookupEnv("REPOWATCH_PERSIST_WATERMARKS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("REPOWATCH_PERSIST_WATERMARKS has invalid boolean %q: %w", v, err)
		}
		cfg.PersistMarks = b
	}

	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}
