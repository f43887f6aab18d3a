package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

type Config struct {
	DBSource       string        `mapstructure:"DB_SOURCE"`
	Port           string        `mapstructure:"SERVER_PORT"`
	Env            string        `mapstructure:"ENVIRONMENT"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	LockTimeout    time.Duration `mapstructure:"LOCK_TIMEOUT"`
	MigrateOnStart bool          `mapstructure:"MIGRATE_ON_START"`

	CacheBackend   string        `mapstructure:"CACHE_BACKEND"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int           `mapstructure:"REDIS_DB"`
	WalletCacheTTL time.Duration `mapstructure:"WALLET_CACHE_TTL"`
	ListCacheTTL   time.Duration `mapstructure:"LIST_CACHE_TTL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	NotifyEnabled     bool `mapstructure:"NOTIFY_ENABLED"`
	ThankYouThreshold int  `mapstructure:"THANK_YOU_THRESHOLD"`
	NotifyQueueSize   int  `mapstructure:"NOTIFY_QUEUE_SIZE"`
	NotifyWorkers     int  `mapstructure:"NOTIFY_WORKERS"`

	// RateLimitRPS of zero disables per-caller throttling.
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

var defaults = map[string]interface{}{
	"DB_SOURCE":           "",
	"SERVER_PORT":         "8080",
	"ENVIRONMENT":         "development",
	"DB_MAX_CONNS":        20,
	"LOCK_TIMEOUT":        "3s",
	"MIGRATE_ON_START":    true,
	"CACHE_BACKEND":       CacheBackendRedis,
	"REDIS_ADDR":          "localhost:6379",
	"REDIS_PASSWORD":      "",
	"REDIS_DB":            0,
	"WALLET_CACHE_TTL":    "2m",
	"LIST_CACHE_TTL":      "1m",
	"LOG_LEVEL":           "info",
	"LOG_FORMAT":          "json",
	"NOTIFY_ENABLED":      true,
	"THANK_YOU_THRESHOLD": 2,
	"NOTIFY_QUEUE_SIZE":   256,
	"NOTIFY_WORKERS":      2,
	"RATE_LIMIT_RPS":      20.0,
	"RATE_LIMIT_BURST":    40,
}

// Load reads configuration from the environment, optionally seeded from a
// .env file in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DBSource == "" {
		return fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	switch c.CacheBackend {
	case CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.WalletCacheTTL <= 0 || c.ListCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.ThankYouThreshold < 1 {
		return fmt.Errorf("THANK_YOU_THRESHOLD must be at least 1")
	}
	if c.NotifyWorkers < 1 || c.NotifyQueueSize < 1 {
		return fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be at least 1")
	}
	if c.RateLimitRPS < 0 || (c.RateLimitRPS > 0 && c.RateLimitBurst < 1) {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0 and RATE_LIMIT_BURST >= 1 when enabled")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Redact masks secrets for logging.
func (c Config) Redact() Config {
	c.DBSource = "****"
	if c.RedisPassword != "" {
		c.RedisPassword = "****"
	}
	return c
}
