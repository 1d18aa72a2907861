package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/curatehub/pulse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Pipeline PipelineConfig

	// Logging
	LogLevel observability.LogLevel
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RedisConfig holds queue broker configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int

	// QueueKey is the well-known channel holding raw events
	QueueKey string
	// DeadLetterKey receives malformed payloads; DeadLetterMax bounds the list
	DeadLetterKey string
	DeadLetterMax int64
}

// DatabaseConfig holds counter store configuration
type DatabaseConfig struct {
	// Driver is "postgres" in production; "sqlite3" is supported for local
	// development with the same schema
	Driver      string
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// PipelineConfig holds analytics pipeline tunables
type PipelineConfig struct {
	// TrendingWindowDays is the trailing span the scorer reads
	TrendingWindowDays int
	// ClickWeight multiplies clicks relative to views in the score formula
	ClickWeight float64
	// PollTimeout bounds each blocking dequeue so cancellation is observed
	PollTimeout time.Duration

	// Dashboard response cache
	DashboardCacheTTL  time.Duration
	DashboardCacheSize int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:   loadServerConfig(),
		Redis:    loadRedisConfig(),
		Database: loadDatabaseConfig(),
		Pipeline: loadPipelineConfig(),
		LogLevel: parseLogLevel(getEnv("PULSE_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PULSE_HOST", "0.0.0.0"),
		Port:            getEnv("PULSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PULSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PULSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PULSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PULSE_HEALTH_PORT", "9090"),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:           getEnv("PULSE_REDIS_URL", "redis://localhost:6379/0"),
		Password:      getEnv("PULSE_REDIS_PASSWORD", ""),
		DB:            getEnvInt("PULSE_REDIS_DB", -1),
		MaxRetries:    getEnvInt("PULSE_REDIS_MAX_RETRIES", 3),
		PoolSize:      getEnvInt("PULSE_REDIS_POOL_SIZE", 10),
		QueueKey:      getEnv("PULSE_QUEUE_KEY", "analytics:events"),
		DeadLetterKey: getEnv("PULSE_DEAD_LETTER_KEY", "analytics:events:dead"),
		DeadLetterMax: getEnvInt64("PULSE_DEAD_LETTER_MAX", 1000),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:      getEnv("PULSE_DB_DRIVER", "postgres"),
		URL:         getEnv("PULSE_DB_URL", "postgres://localhost/pulse?sslmode=disable"),
		MaxConns:    getEnvInt("PULSE_DB_MAX_CONNS", 10),
		MinConns:    getEnvInt("PULSE_DB_MIN_CONNS", 2),
		Timeout:     getEnvDuration("PULSE_DB_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("PULSE_DB_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TrendingWindowDays: getEnvInt("PULSE_TRENDING_WINDOW_DAYS", 7),
		ClickWeight:        getEnvFloat("PULSE_CLICK_WEIGHT", 2.0),
		PollTimeout:        getEnvDuration("PULSE_POLL_TIMEOUT", time.Second),
		DashboardCacheTTL:  getEnvDuration("PULSE_DASHBOARD_CACHE_TTL", 30*time.Second),
		DashboardCacheSize: getEnvInt("PULSE_DASHBOARD_CACHE_SIZE", 64),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Redis.QueueKey == "" {
		return fmt.Errorf("queue key is required")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Pipeline.TrendingWindowDays <= 0 {
		return fmt.Errorf("trending window must be at least one day")
	}
	if c.Pipeline.ClickWeight < 0 {
		return fmt.Errorf("click weight must not be negative")
	}
	if c.Pipeline.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive")
	}

	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float64 environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
