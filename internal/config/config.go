// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	DBURL             string        `mapstructure:"DB_URL"`
	SessionSecret     string        `mapstructure:"SESSION_SECRET"`
	SessionTTL        time.Duration `mapstructure:"SESSION_TTL"`
	GithubAPIURL      string        `mapstructure:"GITHUB_API_URL"`
	GithubPerPage     int           `mapstructure:"GITHUB_PER_PAGE"`
	UpstreamRPS       float64       `mapstructure:"UPSTREAM_RPS"`
	UpstreamTimeout   time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`
	ProbePages        int           `mapstructure:"PROBE_PAGES"`
	FetchConcurrency  int           `mapstructure:"FETCH_CONCURRENCY"`
	MaxPages          int           `mapstructure:"MAX_PAGES"`
	BatchSize         int           `mapstructure:"BATCH_SIZE"`
	BatchWindow       time.Duration `mapstructure:"BATCH_WINDOW"`
	CachePageSize     int           `mapstructure:"CACHE_PAGE_SIZE"`
	StaleWindow       time.Duration `mapstructure:"STALE_WINDOW"`
	SyncInterval      time.Duration `mapstructure:"SYNC_INTERVAL"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	LockTTL           time.Duration `mapstructure:"LOCK_TTL"`
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("GITHUB_API_URL", "https://api.github.com/")
	v.SetDefault("GITHUB_PER_PAGE", 100)
	v.SetDefault("UPSTREAM_RPS", 0)
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("PROBE_PAGES", 2)
	v.SetDefault("FETCH_CONCURRENCY", 20)
	v.SetDefault("MAX_PAGES", 400)
	v.SetDefault("BATCH_SIZE", 50)
	v.SetDefault("BATCH_WINDOW", "1s")
	v.SetDefault("CACHE_PAGE_SIZE", 500)
	v.SetDefault("STALE_WINDOW", "1m")
	v.SetDefault("SYNC_INTERVAL", "0s")
	v.SetDefault("LOCK_TTL", "10m")
	v.SetDefault("HEARTBEAT_INTERVAL", "15s")

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"DB_URL", "SESSION_SECRET", "REDIS_URL"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET is a required configuration field")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.GithubPerPage < 1 || c.GithubPerPage > 100 {
		return errors.New("GITHUB_PER_PAGE must be between 1 and 100")
	}
	if c.ProbePages < 1 {
		return errors.New("PROBE_PAGES must be at least 1")
	}
	if c.FetchConcurrency < c.ProbePages {
		return errors.New("FETCH_CONCURRENCY must not be lower than PROBE_PAGES")
	}
	if c.MaxPages < 1 {
		return errors.New("MAX_PAGES must be at least 1")
	}
	if c.BatchSize < 1 || c.BatchWindow <= 0 {
		return errors.New("BATCH_SIZE and BATCH_WINDOW must be positive")
	}
	if c.CachePageSize < 1 {
		return errors.New("CACHE_PAGE_SIZE must be at least 1")
	}
	if c.RedisURL != "" && c.LockTTL <= 0 {
		return errors.New("LOCK_TTL must be positive when REDIS_URL is set")
	}
	if c.StaleWindow < 0 {
		return errors.New("STALE_WINDOW must not be negative")
	}
	return nil
}
