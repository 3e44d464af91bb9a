// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration, for both the server and the
// embedded client demo. All values are read from the environment.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Client connection settings.
	ServerURL string
	AuthToken string
	Reconnect ReconnectConfig

	// Server-side liveness and cleanup.
	SendQueueSize       int
	ReaperInterval      time.Duration
	InactivityThreshold time.Duration
}

// ReconnectConfig controls the client reconnection state machine and the
// heartbeat exchange on an open channel.
type ReconnectConfig struct {
	MaxAttempts       int
	DelayBase         time.Duration
	BackoffMultiplier float64
	DelayMax          time.Duration
	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/presence.db"),
		ServerURL:   getEnv("SERVER_URL", "ws://localhost:8080/ws"),
		AuthToken:   getEnv("AUTH_TOKEN", ""),
		Reconnect: ReconnectConfig{
			MaxAttempts:       getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
			DelayBase:         getEnvDuration("RECONNECT_DELAY_BASE", 1000*time.Millisecond),
			BackoffMultiplier: getEnvFloat("RECONNECT_BACKOFF_MULTIPLIER", 2),
			DelayMax:          getEnvDuration("RECONNECT_DELAY_MAX", 30000*time.Millisecond),
			HeartbeatIncoming: getEnvDuration("HEARTBEAT_INCOMING", 10000*time.Millisecond),
			HeartbeatOutgoing: getEnvDuration("HEARTBEAT_OUTGOING", 10000*time.Millisecond),
		},
		SendQueueSize:       getEnvInt("SEND_QUEUE_SIZE", 32),
		ReaperInterval:      getEnvDuration("REAPER_INTERVAL", 24*time.Hour),
		InactivityThreshold: getEnvDuration("SESSION_INACTIVITY_THRESHOLD", 7*24*time.Hour),
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
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be > 0")
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be > 0")
	}
	if c.InactivityThreshold <= 0 {
		return fmt.Errorf("SESSION_INACTIVITY_THRESHOLD must be > 0")
	}
	return c.Reconnect.Validate()
}

// Validate checks reconnection parameters for internal consistency.
func (r *ReconnectConfig) Validate() error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be > 0")
	}
	if r.DelayBase <= 0 {
		return fmt.Errorf("RECONNECT_DELAY_BASE must be > 0")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("RECONNECT_BACKOFF_MULTIPLIER must be >= 1")
	}
	if r.DelayMax < r.DelayBase {
		return fmt.Errorf("RECONNECT_DELAY_MAX must be >= RECONNECT_DELAY_BASE")
	}
	if r.HeartbeatIncoming <= 0 || r.HeartbeatOutgoing <= 0 {
		return fmt.Errorf("heartbeat intervals must be > 0")
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts either a Go duration string ("30s", "1h") or a
// bare integer interpreted as milliseconds, matching the frontend config.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
