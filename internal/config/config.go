// Package config defines service configuration and how it is loaded.
package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreBackend selects memory, redis, sqlite or postgres persistence.
	StoreBackend     string `koanf:"store_backend"`
	RedisAddr        string `koanf:"redis_addr"`
	RedisDB          int    `koanf:"redis_db"`
	RedisPrefix      string `koanf:"redis_prefix"`
	SQLitePath       string `koanf:"sqlite_path"`
	PostgresDSN      string `koanf:"postgres_dsn"`
	PostgresMaxConns int    `koanf:"postgres_max_conns"`

	// MaxCommitAttempts bounds score commit retries after version conflicts.
	MaxCommitAttempts int `koanf:"max_commit_attempts"`
	// CommitBackoffMS is the initial wait between commit attempts.
	CommitBackoffMS int `koanf:"commit_backoff_ms"`
	// AccountLocks serializes applies per account inside the process.
	AccountLocks bool `koanf:"account_locks"`

	JWTSecret       string `koanf:"jwt_secret"`
	JWTIssuer       string `koanf:"jwt_issuer"`
	TokenTTLMinutes int    `koanf:"token_ttl_minutes"`

	Argon2MemoryKB int `koanf:"argon2_memory_kb"`
	Argon2Time     int `koanf:"argon2_time"`
	Argon2Threads  int `koanf:"argon2_threads"`

	// DedupeSize bounds remembered idempotency keys.
	DedupeSize int `koanf:"dedupe_size"`

	AlertQueueSize int `koanf:"alert_queue_size"`
	AlertWorkers   int `koanf:"alert_workers"`

	// AlertStream serves GET /alerts/stream to WebSocket clients.
	AlertStream      bool `koanf:"alert_stream"`
	StreamMaxClients int  `koanf:"stream_max_clients"`

	// AMQPURL, when set, also publishes alerts to RabbitMQ.
	AMQPURL      string `koanf:"amqp_url"`
	AMQPExchange string `koanf:"amqp_exchange"`

	// EventRetentionHours prunes older events; 0 keeps everything.
	EventRetentionHours int    `koanf:"event_retention_hours"`
	RetentionSchedule   string `koanf:"retention_schedule"`

	// OTLPEndpoint is an OTLP/HTTP collector URL; empty disables tracing.
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// New returns a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		StoreBackend:      BackendMemory,
		RedisAddr:         "localhost:6379",
		RedisDB:           0,
		RedisPrefix:       "trust",
		SQLitePath:        "trustscore.db",
		PostgresMaxConns:  10,
		MaxCommitAttempts: 5,
		CommitBackoffMS:   2,
		AccountLocks:      true,
		JWTIssuer:         "trustscore",
		TokenTTLMinutes:   24 * 60,
		Argon2MemoryKB:    64 * 1024,
		Argon2Time:        3,
		Argon2Threads:     2,
		DedupeSize:        50_000,
		AlertQueueSize:    1024,
		AlertWorkers:      2,
		AlertStream:       true,
		StreamMaxClients:  10000,
		AMQPExchange:      "trust.alerts",
		RetentionSchedule: "@every 1h",
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	case c.MaxCommitAttempts < 1:
		return fmt.Errorf("%w: max_commit_attempts must be positive", ErrInvalidConfig)
	case c.CommitBackoffMS < 0:
		return fmt.Errorf("%w: commit_backoff_ms must not be negative", ErrInvalidConfig)
	case c.TokenTTLMinutes < 1:
		return fmt.Errorf("%w: token_ttl_minutes must be positive", ErrInvalidConfig)
	case c.Argon2Threads < 1 || c.Argon2Threads > 255:
		return fmt.Errorf("%w: argon2_threads must be in [1,255]", ErrInvalidConfig)
	case c.EventRetentionHours < 0:
		return fmt.Errorf("%w: event_retention_hours must not be negative", ErrInvalidConfig)
	}
	if c.EventRetentionHours > 0 {
		if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
			return fmt.Errorf("%w: retention_schedule: %w", ErrInvalidConfig, err)
		}
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("%w: redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%w: sqlite_path is required for the sqlite backend", ErrInvalidConfig)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%w: postgres_dsn is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_backend %q", ErrInvalidConfig, c.StoreBackend)
	}
	return nil
}
