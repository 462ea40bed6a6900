// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the realtime and turn pipelines.
const (
	DefaultQueueCapacity     = 50
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTurnTimeout       = 300 * time.Second
	DefaultHistoryWindow     = 10
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	AI          AIConfig
	Relay       RelayConfig
	Turn        TurnConfig
}

// AIConfig points at the AI backend service.
type AIConfig struct {
	// BaseURL is the HTTP API used by the turn pipeline
	// (transcription, sentiment, analysis, generation).
	BaseURL string
	// RealtimeURL is the WebSocket endpoint the duplex proxy dials.
	RealtimeURL string
	APIKey      string
	Model       string
}

// RelayConfig controls the duplex proxy.
type RelayConfig struct {
	QueueCapacity     int
	HeartbeatInterval time.Duration
}

// TurnConfig controls the streamed turn pipeline.
type TurnConfig struct {
	Timeout       time.Duration
	HistoryWindow int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/parley.db"),
		AI: AIConfig{
			BaseURL:     getEnv("AI_BASE_URL", "http://localhost:9000"),
			RealtimeURL: getEnv("AI_REALTIME_URL", "ws://localhost:9000/realtime"),
			APIKey:      getEnv("AI_API_KEY", ""),
			Model:       getEnv("AI_MODEL", "coach-default"),
		},
		Relay: RelayConfig{
			QueueCapacity:     getEnvInt("RELAY_QUEUE_CAPACITY", DefaultQueueCapacity),
			HeartbeatInterval: getEnvDurationMs("HEARTBEAT_INTERVAL_MS", DefaultHeartbeatInterval),
		},
		Turn: TurnConfig{
			Timeout:       getEnvDurationMs("TURN_TIMEOUT_MS", DefaultTurnTimeout),
			HistoryWindow: getEnvInt("HISTORY_WINDOW", DefaultHistoryWindow),
		},
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
	if c.AI.BaseURL == "" {
		return fmt.Errorf("AI_BASE_URL cannot be empty")
	}
	if c.AI.RealtimeURL == "" {
		return fmt.Errorf("AI_REALTIME_URL cannot be empty")
	}
	if !strings.HasPrefix(c.AI.RealtimeURL, "ws://") && !strings.HasPrefix(c.AI.RealtimeURL, "wss://") {
		return fmt.Errorf("AI_REALTIME_URL must be a ws:// or wss:// URL")
	}
	if c.Relay.QueueCapacity <= 0 {
		return fmt.Errorf("RELAY_QUEUE_CAPACITY must be > 0")
	}
	if c.Relay.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_MS must be > 0")
	}
	if c.Turn.Timeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT_MS must be > 0")
	}
	if c.Turn.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
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

// getEnvDurationMs parses a millisecond count, matching the units the
// browser client configures.
func getEnvDurationMs(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
