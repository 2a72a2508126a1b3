package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds crawler, storage, and admin API settings.
// Load from env and/or a .env file (see LoadEnvFile).
type Config struct {
	// Storage
	DatabaseURL string // e.g. ./hydracrawl.sqlite

	// Webhook
	WebhookURL     string
	WebhookEnabled bool

	// HTTP crawling
	UserAgent        string
	RequestTimeout   time.Duration
	MaxFilesizeBytes int64

	// Scheduler
	SleepBetweenBatches time.Duration
	BatchSize           int
	CheckIntervalDays   int
	ExcludedPatterns    []string

	// Admin HTTP API
	AdminListenAddr string
	AdminToken      string

	// Observability
	MetricsListenAddr string
}

// Load reads config from the environment. Call LoadEnvFile(".env") first to
// source a .env file into the environment.
func Load() *Config {
	c := &Config{
		DatabaseURL:         getEnv("HYDRACRAWL_DATABASE_URL", "./hydracrawl.sqlite"),
		WebhookURL:          os.Getenv("HYDRACRAWL_WEBHOOK_URL"),
		WebhookEnabled:      getEnvBool("HYDRACRAWL_WEBHOOK_ENABLED", false),
		UserAgent:           getEnv("HYDRACRAWL_USER_AGENT", "hydracrawl/1.0"),
		RequestTimeout:      getEnvDuration("HYDRACRAWL_REQUEST_TIMEOUT", 30*time.Second),
		MaxFilesizeBytes:    getEnvInt64("HYDRACRAWL_MAX_FILESIZE_ALLOWED", 1<<30), // 1 GiB
		SleepBetweenBatches: getEnvDuration("HYDRACRAWL_SLEEP_BETWEEN_BATCHES", 5*time.Second),
		BatchSize:           getEnvInt("HYDRACRAWL_BATCH_SIZE", 10),
		CheckIntervalDays:   getEnvInt("HYDRACRAWL_CHECK_INTERVAL_DAYS", 7),
		ExcludedPatterns:    getEnvList("HYDRACRAWL_EXCLUDED_PATTERNS"),
		AdminListenAddr:     getEnv("HYDRACRAWL_ADMIN_LISTEN_ADDR", ":8000"),
		AdminToken:          os.Getenv("HYDRACRAWL_ADMIN_TOKEN"),
		MetricsListenAddr:   getEnv("HYDRACRAWL_METRICS_LISTEN_ADDR", ":9090"),
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.CheckIntervalDays <= 0 {
		c.CheckIntervalDays = 7
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxFilesizeBytes <= 0 {
		c.MaxFilesizeBytes = 1 << 30
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated env var into a trimmed, non-empty slice.
func getEnvList(key string) []string {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
