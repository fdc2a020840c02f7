package config

import (
	"time"

	redisclient "github.com/vietddude/flatshare/internal/infra/redis"
	"github.com/vietddude/flatshare/internal/infra/storage/postgres"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	API          APIConfig          `yaml:"api"`
	Cache        CacheConfig        `yaml:"cache"`
	Queue        QueueConfig        `yaml:"queue"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        redisclient.Config `yaml:"redis"`
	Database     postgres.Config    `yaml:"database"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// APIConfig describes the backend the client talks to.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Token       string        `yaml:"token"`
	HealthPaths []string      `yaml:"health_paths"` // tried in order
}

// CacheConfig holds request cache settings.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	Retention  time.Duration `yaml:"retention"` // kept past TTL for offline fallback
}

// QueueConfig holds offline queue settings.
type QueueConfig struct {
	MaxReplayAttempts int `yaml:"max_replay_attempts"` // 0 = unlimited
}

// StorageConfig selects the persistence backend for cache and queue.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, redis, postgres
}

// ConnectivityConfig holds probe and retry settings.
type ConnectivityConfig struct {
	Targets       []string      `yaml:"targets"` // host:port
	ProbeInterval time.Duration `yaml:"probe_interval"`
	RetryInterval time.Duration `yaml:"retry_interval"` // 0 disables periodic replay
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
