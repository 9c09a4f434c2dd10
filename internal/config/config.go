// Package config provides configuration loading for the workbench server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the server.
type Config struct {
	// HTTP server
	Port           int
	Host           string
	AllowedOrigins []string

	// Persistence
	DatabaseURL string

	// Auth
	JWTSecret string
	JWTIssuer string

	// Workspace storage
	StoragePath string

	// Frontend bundle served at / (empty disables static serving)
	StaticDir string

	// Provider credentials
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Process supervisor
	ProcessBasePort   int
	ProcessMaxPorts   int
	InstallTimeout    time.Duration
	StopGracePeriod   time.Duration
	MaxConcurrentApps int

	// Generation pipeline
	MaxToolSteps     int
	StreamRateBurst  int
	StreamRatePerMin int

	// Log bus
	LogReplayBufferSize int
	LogSubscriberBuffer int

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// WebSocket
	WSReadBufferSize  int
	WSWriteBufferSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		Host:           getEnv("HOST", "0.0.0.0"),
		AllowedOrigins: getEnvStringSlice("CORS_ORIGIN", []string{"*"}),

		DatabaseURL: getEnv("DATABASE_URL", "file:workbench.db"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "workbench"),

		StoragePath: getEnv("STORAGE_PATH", "/var/lib/workbench/apps"),

		StaticDir: getEnv("STATIC_DIR", "./ui/dist"),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		ProcessBasePort:   getEnvInt("PROCESS_BASE_PORT", getEnvInt("PORT", 8080)+1),
		ProcessMaxPorts:   getEnvInt("PROCESS_MAX_PORTS", 100),
		InstallTimeout:    getEnvDuration("INSTALL_TIMEOUT", 120*time.Second),
		StopGracePeriod:   getEnvDuration("STOP_GRACE_PERIOD", 5*time.Second),
		MaxConcurrentApps: getEnvInt("MAX_CONCURRENT_APPS", 100),

		MaxToolSteps:     getEnvInt("MAX_TOOL_STEPS", 10),
		StreamRateBurst:  getEnvInt("STREAM_RATE_BURST", 3),
		StreamRatePerMin: getEnvInt("STREAM_RATE_PER_MIN", 20),

		LogReplayBufferSize: getEnvInt("LOG_REPLAY_BUFFER_SIZE", 200),
		LogSubscriberBuffer: getEnvInt("LOG_SUBSCRIBER_BUFFER", 256),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 0), // 0: long-lived SSE/WS responses must not be cut off
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		WSReadBufferSize:  getEnvInt("WS_READ_BUFFER_SIZE", 1024),
		WSWriteBufferSize: getEnvInt("WS_WRITE_BUFFER_SIZE", 1024),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvStringSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
